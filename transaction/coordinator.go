package transaction

import (
	"fmt"
	"sync"
)

// AccessCoordinator is the facade every transactional service talks to: it
// owns the Locker registry keyed by transaction, hands out per-source
// AccessReporters, and - once a transaction completes - releases its locks
// and publishes an access-detail record to the ProfileSink. It owns no
// commit/abort/WAL logic; those belong to the Transaction collaborator.
type AccessCoordinator struct {
	lm     *LockManager
	sink   ProfileSink
	logger Logger

	mu      sync.Mutex
	lockers map[TxnID]*Locker
}

// NewAccessCoordinator builds a coordinator backed by lm. sink may be nil,
// in which case access-detail records are simply discarded.
func NewAccessCoordinator(lm *LockManager, sink ProfileSink, logger Logger) *AccessCoordinator {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &AccessCoordinator{
		lm:      lm,
		sink:    sink,
		logger:  logger,
		lockers: make(map[TxnID]*Locker),
	}
}

// NotifyNewTransaction registers txn with the coordinator, creating its
// Locker and arranging for locks to be released and an access-detail
// record published once txn completes. requestedStartTime is the task's
// originally requested start time (monotonic milliseconds, or any
// comparable clock the caller is consistent about), used to age the
// Locker for deadlock victim selection - not necessarily txn.CreationTime,
// since a transaction retried after losing a prior deadlock should keep
// the age of its first attempt. tryCount is the 1-based attempt number;
// it fails with IllegalArgument if tryCount < 1, and with IllegalState if
// txn's id is already registered.
func (c *AccessCoordinator) NotifyNewTransaction(txn Transaction, requestedStartTime int64, tryCount int) (*Locker, error) {
	if txn == nil {
		return nil, &IllegalArgumentError{Message: "nil transaction"}
	}
	if tryCount < 1 {
		return nil, &IllegalArgumentError{Message: fmt.Sprintf("tryCount must be >= 1, got %d", tryCount)}
	}

	c.mu.Lock()
	if _, exists := c.lockers[txn.ID()]; exists {
		c.mu.Unlock()
		return nil, &IllegalStateError{Message: fmt.Sprintf("transaction %s already registered", txn.ID())}
	}
	locker := c.lm.NewLocker(txn, requestedStartTime)
	c.lockers[txn.ID()] = locker
	c.mu.Unlock()

	txn.RegisterCompletionListener(func() {
		c.onCompletion(txn, locker)
	})

	c.logger.Debug("transaction registered", Field{Key: "txn_id", Value: string(txn.ID())})
	return locker, nil
}

// GetConflictingTransaction always returns ("", false): this coordinator
// keeps no history of which transaction conflicted with a completed one
// once it has released its locks, so there is nothing to report.
func (c *AccessCoordinator) GetConflictingTransaction(Transaction) (TxnID, bool) {
	return "", false
}

func (c *AccessCoordinator) lockerFor(txn Transaction) (*Locker, error) {
	if txn == nil {
		return nil, &IllegalArgumentError{Message: "nil transaction"}
	}
	c.mu.Lock()
	locker, ok := c.lockers[txn.ID()]
	c.mu.Unlock()
	if !ok {
		return nil, &IllegalStateError{Message: fmt.Sprintf("transaction %s was never registered", txn.ID())}
	}
	return locker, nil
}

func (c *AccessCoordinator) onCompletion(txn Transaction, locker *Locker) {
	if err := c.lm.ReleaseAll(locker); err != nil {
		c.logger.Error("releasing locks on completion failed",
			Field{Key: "txn_id", Value: string(txn.ID())},
			Field{Key: "error", Value: err.Error()},
		)
	}

	c.mu.Lock()
	delete(c.lockers, txn.ID())
	c.mu.Unlock()

	if c.sink == nil {
		return
	}

	summary := ConflictNone
	switch locker.getConflict() {
	case ConflictDeadlock:
		summary = ConflictDeadlockSummary
	case ConflictTimeout, ConflictDenied, ConflictInterrupted:
		summary = ConflictAccessNotGranted
	}

	requests := locker.Requests()
	objects := make([]AccessedObject, 0, len(requests))
	for _, req := range requests {
		mode := Read
		if req.forWrite {
			mode = Write
		}
		objects = append(objects, AccessedObject{
			Source:      req.key.Source,
			ObjectID:    req.key.ObjectID,
			Mode:        mode,
			Description: locker.describe(req.key),
		})
	}

	c.sink.SetAccessedObjectsDetail(AccessDetail{
		TxnID:   txn.ID(),
		Objects: objects,
		Summary: summary,
	})
}
