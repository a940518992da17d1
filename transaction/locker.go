package transaction

import (
	"sync"
	"time"
)

// Locker is the per-transaction lock-bookkeeping handle: one is created the
// first time a transaction touches the lock manager and lives until the
// transaction completes and releases everything it holds. It tracks the
// transaction's age (used to pick a deadlock victim), every request it has
// ever made, and - while blocked - which single request it is waiting on.
type Locker struct {
	txn   Transaction
	age   int64 // requestedStartTime passed to NotifyNewTransaction; smaller is older
	label TxnID

	// inflight is held (TryLock) for the duration of any public call
	// against this Locker. A second goroutine calling concurrently - the
	// cross-thread misuse the spec's open question asks about - fails to
	// acquire it and is rejected with IllegalState rather than silently
	// racing the first caller.
	inflight sync.Mutex

	mu              sync.Mutex
	requests        []*LockRequest
	keyDescriptions map[Key]string

	// waiting is the request this locker is currently blocked on, or nil.
	// It is only ever set and cleared by the owning goroutine (while
	// holding inflight), but is read by the deadlock detector from other
	// goroutines, so reads and writes of it go through mu.
	waiting *LockRequest

	// conflict records how the locker's current or last wait ended: the
	// grant rule sets nothing (a grant is not a conflict), the deadlock
	// detector sets ConflictDeadlock before closing LockRequest.done, and
	// the waiting goroutine itself sets ConflictTimeout/ConflictInterrupted
	// after its select fires on the deadline or the context.
	conflict ConflictKind
}

// newLocker creates a Locker for txn, aged by requestedStartTime (the
// task's originally requested start time, not necessarily txn's creation
// time - a transaction retried after losing a prior deadlock keeps the age
// of its first attempt). Callers obtain one through
// AccessCoordinator.NotifyNewTransaction rather than calling this directly.
func newLocker(txn Transaction, requestedStartTime int64) *Locker {
	return &Locker{
		txn:             txn,
		age:             requestedStartTime,
		label:           txn.ID(),
		keyDescriptions: make(map[Key]string),
	}
}

// ID returns the owning transaction's id.
func (l *Locker) ID() TxnID {
	return l.label
}

// Age returns the requested-start-time age used to pick deadlock victims:
// smaller values are older transactions.
func (l *Locker) Age() int64 {
	return l.age
}

// Deadline returns the point in time a wait started against this locker
// should give up, per the min(lockTimeout, txn-deadline) rule.
func (l *Locker) Deadline(lockTimeout time.Duration) time.Time {
	txnDeadline := l.txn.CreationTime().Add(l.txn.Timeout())
	lockDeadline := time.Now().Add(lockTimeout)
	if txnDeadline.Before(lockDeadline) {
		return txnDeadline
	}
	return lockDeadline
}

// DescribeObject records a human-readable description for a key this
// locker has accessed, used only for diagnostics/audit records.
func (l *Locker) DescribeObject(k Key, description string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keyDescriptions[k] = description
}

func (l *Locker) describe(k Key) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keyDescriptions[k]
}

func (l *Locker) addRequest(req *LockRequest) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()
}

// Requests returns every request this locker has made, granted or not, in
// the order they were made.
func (l *Locker) Requests() []*LockRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*LockRequest, len(l.requests))
	copy(out, l.requests)
	return out
}

func (l *Locker) setWaiting(req *LockRequest) {
	l.mu.Lock()
	l.waiting = req
	l.conflict = 0
	l.mu.Unlock()
}

func (l *Locker) clearWaiting() {
	l.mu.Lock()
	l.waiting = nil
	l.mu.Unlock()
}

// Waiting returns the request this locker is currently blocked on, or nil.
// Used by the deadlock detector to follow the wait-for edge out of this
// locker.
func (l *Locker) Waiting() *LockRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

func (l *Locker) setConflict(k ConflictKind) {
	l.mu.Lock()
	l.conflict = k
	l.mu.Unlock()
}

func (l *Locker) getConflict() ConflictKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conflict
}

// beginCall acquires the single-caller guard, returning an IllegalStateError
// if another call against this locker is already in flight.
func (l *Locker) beginCall() error {
	if !l.inflight.TryLock() {
		return &IllegalStateError{Message: "concurrent call against the same locker from more than one caller"}
	}
	return nil
}

func (l *Locker) endCall() {
	l.inflight.Unlock()
}
