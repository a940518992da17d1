package transaction

import "context"

// AccessReporter reports typed object accesses for one access source (a
// table, a cache region, a queue - whatever registered it) against the
// coordinator's shared lock manager. The type parameter is the concrete
// object-id type that source uses (an int64 primary key, a string name);
// it exists so callers get compile-time checking instead of passing `any`
// ids around.
type AccessReporter[T any] struct {
	source      string
	coordinator *AccessCoordinator
}

// RegisterAccessSource creates a typed AccessReporter for source, backed by
// coordinator's shared lock manager and transaction registry.
func RegisterAccessSource[T any](coordinator *AccessCoordinator, source string) *AccessReporter[T] {
	return &AccessReporter[T]{source: source, coordinator: coordinator}
}

// Source returns the access source name this reporter was registered for.
func (r *AccessReporter[T]) Source() string {
	return r.source
}

// ReportObjectAccess acquires the lock for (source, id) in mode on behalf
// of txn, blocking until it is granted or a terminal conflict occurs. txn
// must already have been registered via AccessCoordinator.NotifyNewTransaction.
// Every conflict kind is translated into a typed error, and the
// transaction is aborted with that error before it is returned; a nil
// error means the access was granted.
func (r *AccessReporter[T]) ReportObjectAccess(ctx context.Context, txn Transaction, id T, mode LockMode) error {
	locker, err := r.coordinator.lockerFor(txn)
	if err != nil {
		return err
	}

	key := Key{Source: r.source, ObjectID: id}
	conflict, err := r.coordinator.lm.Lock(ctx, locker, key, mode == Write)
	if err != nil {
		return err
	}
	if conflict == nil {
		return nil
	}

	var translated error
	switch conflict.Kind {
	case ConflictTimeout:
		translated = &TransactionTimeoutError{TxnID: txn.ID(), Key: key, Conflicting: conflict.Conflicting}
	case ConflictDenied, ConflictDeadlock:
		translated = &TransactionConflictError{TxnID: txn.ID(), Key: key, Conflicting: conflict.Conflicting, Reason: conflict.Kind}
	case ConflictInterrupted:
		translated = &TransactionInterruptedError{TxnID: txn.ID(), Key: key}
	default:
		translated = &IllegalStateError{Message: "unexpected conflict kind " + conflict.Kind.String()}
	}

	txn.Abort(translated)
	return translated
}

// SetObjectDescription attaches a human-readable description to (source,
// id) for this transaction, surfaced later in the record published to the
// ProfileSink when txn completes.
func (r *AccessReporter[T]) SetObjectDescription(txn Transaction, id T, description string) error {
	locker, err := r.coordinator.lockerFor(txn)
	if err != nil {
		return err
	}
	locker.DescribeObject(Key{Source: r.source, ObjectID: id}, description)
	return nil
}
