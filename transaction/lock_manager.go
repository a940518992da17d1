package transaction

import (
	"context"
	"fmt"
	"time"

	"darkstar/access/concurrency"
)

// ConflictKind classifies why a lock request did not end in an immediate,
// unconditional grant.
type ConflictKind int

const (
	// ConflictBlocked is the immediate result of LockNoWait when the
	// request could not be granted and was queued; the caller must call
	// WaitForLock to learn the eventual outcome.
	ConflictBlocked ConflictKind = iota + 1
	ConflictTimeout
	ConflictDenied
	ConflictInterrupted
	ConflictDeadlock
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictBlocked:
		return "BLOCKED"
	case ConflictTimeout:
		return "TIMEOUT"
	case ConflictDenied:
		return "DENIED"
	case ConflictInterrupted:
		return "INTERRUPTED"
	case ConflictDeadlock:
		return "DEADLOCK"
	default:
		return "UNKNOWN"
	}
}

// Conflict is the sum-type result of Lock/LockNoWait/WaitForLock: a nil
// *Conflict means the lock was granted; a non-nil one names why it wasn't
// (yet, or ever) and, where known, which transaction it conflicted with.
type Conflict struct {
	Kind        ConflictKind
	Conflicting TxnID
}

func (c *Conflict) String() string {
	if c == nil {
		return "GRANTED"
	}
	if c.Conflicting == "" {
		return c.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Conflicting)
}

// LockManager grants and releases Read/Write locks on Keys across a sharded
// LockMap, detecting deadlocks synchronously whenever a new waiter blocks.
type LockManager struct {
	mapp     *LockMap
	detector *deadlockDetector
	profiler *concurrency.LockProfiler
	logger   Logger

	configuredLockTimeout time.Duration
	maxWaitQueue          int
}

// LockManagerOption configures a LockManager at construction time.
type LockManagerOption func(*LockManager)

// WithLockTimeout overrides the per-wait lock timeout instead of deriving
// it from 10% of each transaction's own timeout.
func WithLockTimeout(d time.Duration) LockManagerOption {
	return func(lm *LockManager) { lm.configuredLockTimeout = d }
}

// WithMaxWaitQueue bounds how many waiters may queue for a single key
// before further requests are denied outright (ConflictDenied) instead of
// queued. Zero (the default) means unbounded.
func WithMaxWaitQueue(n int) LockManagerOption {
	return func(lm *LockManager) { lm.maxWaitQueue = n }
}

// WithProfiler attaches a LockProfiler that records grants, blocks, and
// terminal outcomes.
func WithProfiler(p *concurrency.LockProfiler) LockManagerOption {
	return func(lm *LockManager) { lm.profiler = p }
}

// WithLogger attaches a Logger; defaults to NoopLogger.
func WithLogger(l Logger) LockManagerOption {
	return func(lm *LockManager) { lm.logger = l }
}

// NewLockManager builds a LockManager backed by a LockMap with numShards
// partitions.
func NewLockManager(numShards int, opts ...LockManagerOption) *LockManager {
	lm := &LockManager{
		mapp:   NewLockMap(numShards),
		logger: NoopLogger{},
	}
	for _, opt := range opts {
		opt(lm)
	}
	lm.detector = newDeadlockDetector(lm.mapp, lm.profiler, lm.logger)
	return lm
}

// NewLocker creates a Locker for txn, aged by requestedStartTime, the
// bookkeeping handle every subsequent Lock/LockNoWait/WaitForLock/Release
// call is made against.
func (lm *LockManager) NewLocker(txn Transaction, requestedStartTime int64) *Locker {
	return newLocker(txn, requestedStartTime)
}

func (lm *LockManager) lockTimeoutFor(l *Locker) time.Duration {
	if lm.configuredLockTimeout > 0 {
		return lm.configuredLockTimeout
	}
	t := l.txn.Timeout() / 10
	if t < time.Millisecond {
		t = time.Millisecond
	}
	return t
}

// Lock acquires key in the requested mode, blocking until it is granted or
// a terminal conflict occurs. It is equivalent to calling LockNoWait
// followed by WaitForLock when the former reports ConflictBlocked.
func (lm *LockManager) Lock(ctx context.Context, locker *Locker, key Key, forWrite bool) (*Conflict, error) {
	conflict, err := lm.LockNoWait(locker, key, forWrite)
	if err != nil || conflict == nil || conflict.Kind != ConflictBlocked {
		return conflict, err
	}
	return lm.WaitForLock(ctx, locker)
}

// LockNoWait attempts to grant key without blocking. If the request cannot
// be granted immediately it is queued and ConflictBlocked is returned; the
// caller must then call WaitForLock to learn the eventual outcome. It
// returns IllegalStateError if locker already has an outstanding wait that
// hasn't been resumed with WaitForLock, or if another goroutine is
// concurrently calling against the same locker.
func (lm *LockManager) LockNoWait(locker *Locker, key Key, forWrite bool) (*Conflict, error) {
	if locker == nil {
		return nil, &IllegalArgumentError{Message: "nil locker"}
	}
	if err := locker.beginCall(); err != nil {
		return nil, err
	}
	defer locker.endCall()

	if locker.getConflict() == ConflictDeadlock {
		return nil, &IllegalStateError{Message: fmt.Sprintf("locker %s was chosen as a deadlock victim and may not acquire further locks", locker.ID())}
	}
	if locker.Waiting() != nil {
		return nil, &IllegalStateError{Message: "locker already has an outstanding wait; call WaitForLock first"}
	}

	var (
		req         *LockRequest
		queued      bool
		denied      bool
		conflicting TxnID
	)
	granted := lm.mapp.withShard(key, func(e *lockEntry) []*LockRequest {
		held, writeHeld := e.selfHolds(locker)
		if held && (writeHeld || !forWrite) {
			return nil
		}
		upgrade := held && !writeHeld

		if lm.maxWaitQueue > 0 && !upgrade && len(e.waiters) >= lm.maxWaitQueue {
			denied = true
			if len(e.granted) > 0 {
				conflicting = e.granted[0].locker.ID()
			}
			return nil
		}

		req = newLockRequest(locker, key, forWrite, upgrade)
		locker.addRequest(req)
		e.insert(req)
		queued = true
		return e.grant()
	})

	for _, g := range granted {
		g.resolve()
		if g.locker != locker && lm.profiler != nil {
			lm.profiler.RecordGrant(0)
		}
	}

	if denied {
		if lm.profiler != nil {
			lm.profiler.RecordOutcome(concurrency.EventDenied, 0)
		}
		return &Conflict{Kind: ConflictDenied, Conflicting: conflicting}, nil
	}
	if !queued {
		return nil, nil
	}
	for _, g := range granted {
		if g == req {
			if lm.profiler != nil {
				lm.profiler.RecordGrant(0)
			}
			return nil, nil
		}
	}

	locker.setWaiting(req)
	if lm.profiler != nil {
		lm.profiler.RecordBlocked(key.String())
	}

	var blockedOn TxnID
	lm.mapp.peekShard(key, func(e *lockEntry) {
		if len(e.granted) > 0 {
			blockedOn = e.granted[0].locker.ID()
		}
	})

	lm.detector.check(locker)

	return &Conflict{Kind: ConflictBlocked, Conflicting: blockedOn}, nil
}

// WaitForLock blocks until the locker's outstanding request (set by a prior
// LockNoWait that returned ConflictBlocked) is granted, times out, is
// chosen as a deadlock victim, or ctx is canceled. With no outstanding
// request it returns a nil Conflict at once, unless the locker has already
// been chosen as a deadlock victim, which is an IllegalStateError.
func (lm *LockManager) WaitForLock(ctx context.Context, locker *Locker) (*Conflict, error) {
	if locker == nil {
		return nil, &IllegalArgumentError{Message: "nil locker"}
	}
	if err := locker.beginCall(); err != nil {
		return nil, err
	}
	defer locker.endCall()

	req := locker.Waiting()
	if req == nil {
		if locker.getConflict() == ConflictDeadlock {
			return nil, &IllegalStateError{Message: fmt.Sprintf("locker %s was chosen as a deadlock victim and may not acquire further locks", locker.ID())}
		}
		return nil, nil
	}

	deadline := locker.Deadline(lm.lockTimeoutFor(locker))
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-req.done:
		locker.clearWaiting()
		if locker.getConflict() == ConflictDeadlock {
			if lm.profiler != nil {
				lm.profiler.RecordOutcome(concurrency.EventDeadlockVictim, 0)
			}
			return &Conflict{Kind: ConflictDeadlock}, nil
		}
		if lm.profiler != nil {
			lm.profiler.RecordGrant(0)
		}
		return nil, nil

	case <-timer.C:
		var holder TxnID
		lm.mapp.peekShard(req.key, func(e *lockEntry) {
			for _, g := range e.granted {
				if g.locker != locker {
					holder = g.locker.ID()
					break
				}
			}
		})
		if lm.abandon(req) {
			locker.clearWaiting()
			return nil, nil
		}
		locker.setConflict(ConflictTimeout)
		locker.clearWaiting()
		if lm.profiler != nil {
			lm.profiler.RecordOutcome(concurrency.EventTimeout, 0)
		}
		return &Conflict{Kind: ConflictTimeout, Conflicting: holder}, nil

	case <-ctx.Done():
		if lm.abandon(req) {
			locker.clearWaiting()
			return nil, nil
		}
		locker.setConflict(ConflictInterrupted)
		locker.clearWaiting()
		if lm.profiler != nil {
			lm.profiler.RecordOutcome(concurrency.EventInterrupted, 0)
		}
		return &Conflict{Kind: ConflictInterrupted}, nil
	}
}

// abandon removes req from its wait queue, unless it was already granted
// (a benign race between the grant rule and a firing timer/context). It
// reports whether the request had, in fact, already been granted.
func (lm *LockManager) abandon(req *LockRequest) (alreadyGranted bool) {
	lm.mapp.withShard(req.key, func(e *lockEntry) []*LockRequest {
		for _, g := range e.granted {
			if g == req {
				alreadyGranted = true
				return nil
			}
		}
		e.removeWaiter(req)
		return nil
	})
	return alreadyGranted
}

// ReleaseLock releases locker's current grant on key, promoting whichever
// waiters the grant rule now admits. If locker does not currently hold key,
// it does nothing and returns nil.
func (lm *LockManager) ReleaseLock(locker *Locker, key Key) error {
	if locker == nil {
		return &IllegalArgumentError{Message: "nil locker"}
	}
	if err := locker.beginCall(); err != nil {
		return err
	}
	defer locker.endCall()

	released, granted := lm.releaseKeyLocked(locker, key)
	if !released {
		return nil
	}
	for _, g := range granted {
		g.resolve()
		if lm.profiler != nil {
			lm.profiler.RecordGrant(0)
		}
	}
	if lm.profiler != nil {
		lm.profiler.RecordOutcome(concurrency.EventReleased, 0)
	}
	return nil
}

// ReleaseAll releases every key locker currently holds. It is idempotent:
// keys already released (including ones superseded by an upgrade) are
// silently skipped.
func (lm *LockManager) ReleaseAll(locker *Locker) error {
	if locker == nil {
		return &IllegalArgumentError{Message: "nil locker"}
	}
	if err := locker.beginCall(); err != nil {
		return err
	}
	defer locker.endCall()

	seen := make(map[Key]bool)
	for _, req := range locker.Requests() {
		if seen[req.key] {
			continue
		}
		seen[req.key] = true
		_, granted := lm.releaseKeyLocked(locker, req.key)
		for _, g := range granted {
			g.resolve()
			if lm.profiler != nil {
				lm.profiler.RecordGrant(0)
			}
		}
	}
	if lm.profiler != nil {
		lm.profiler.RecordOutcome(concurrency.EventReleased, 0)
	}
	return nil
}

func (lm *LockManager) releaseKeyLocked(locker *Locker, key Key) (released bool, granted []*LockRequest) {
	granted = lm.mapp.withShard(key, func(e *lockEntry) []*LockRequest {
		var newlyGranted []*LockRequest
		released, newlyGranted = e.releaseFor(locker)
		return newlyGranted
	})
	return released, granted
}

// Snapshot returns a diagnostic summary of every key currently tracked
// across the whole lock map, for monitoring and audit tooling rather than
// anything on the lock/release hot path.
func (lm *LockManager) Snapshot() []KeySnapshot {
	return lm.mapp.Snapshot()
}
