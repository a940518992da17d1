package transaction

import "fmt"

// IllegalArgumentError is raised synchronously for caller misuse that does
// not depend on lock-table state: a nil locker or transaction, a tryCount
// below 1, and so on.
type IllegalArgumentError struct {
	Message string
}

func (e *IllegalArgumentError) Error() string {
	return fmt.Sprintf("illegal argument: %s", e.Message)
}

// IllegalStateError is raised synchronously when a call is made against a
// Locker or transaction in a state that does not permit it: a new lock
// request while a wait is outstanding or after the locker was chosen as a
// deadlock victim, a second caller racing a Locker's in-flight call, an
// unregistered or already registered transaction, and so on.
type IllegalStateError struct {
	Message string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state: %s", e.Message)
}

// TransactionTimeoutError reports that a lock wait exceeded its deadline
// before the lock could be granted.
type TransactionTimeoutError struct {
	TxnID       TxnID
	Key         Key
	Conflicting TxnID
}

func (e *TransactionTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s timed out waiting for %s (held by %s)", e.TxnID, e.Key, e.Conflicting)
}

// TransactionConflictError reports a lock request that will never be
// granted: either denied outright because the key's wait queue was at
// capacity (Reason == ConflictDenied), or aborted after being chosen as a
// deadlock victim (Reason == ConflictDeadlock). The spec collapses both
// outcomes into the same exception kind; Reason distinguishes them for
// callers that care which one occurred.
type TransactionConflictError struct {
	TxnID       TxnID
	Key         Key
	Conflicting TxnID
	Reason      ConflictKind
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("transaction %s conflicted accessing %s (%s, with %s)", e.TxnID, e.Key, e.Reason, e.Conflicting)
}

// TransactionInterruptedError reports that the context passed to a blocking
// wait was canceled before the lock could be granted.
type TransactionInterruptedError struct {
	TxnID TxnID
	Key   Key
}

func (e *TransactionInterruptedError) Error() string {
	return fmt.Sprintf("transaction %s interrupted while waiting for %s", e.TxnID, e.Key)
}
