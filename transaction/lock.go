package transaction

// LockRequest is one outstanding ask against a single key: either already
// granted, still queued, or resolved to a conflict. It is created fresh for
// every lock()/lockNoWait() call; a Locker may hold many granted requests
// but is blocked on at most one at a time (see Locker.waiting).
type LockRequest struct {
	locker   *Locker
	key      Key
	forWrite bool
	upgrade  bool // true if this request upgrades a Read this same locker already holds on key

	// done is closed at most once, by whoever resolves this request: the
	// grant rule (on grant) or the deadlock detector (on victim selection).
	// A wait that times out or is interrupted removes the request from the
	// queue instead and leaves done open. locker.conflict is guarded by the
	// Locker's own mutex, not by done.
	done chan struct{}
}

func newLockRequest(l *Locker, k Key, forWrite, upgrade bool) *LockRequest {
	return &LockRequest{locker: l, key: k, forWrite: forWrite, upgrade: upgrade, done: make(chan struct{})}
}

func (r *LockRequest) resolve() {
	select {
	case <-r.done:
		// already resolved by someone else
	default:
		close(r.done)
	}
}

// lockEntry is the per-key lock state: who holds it and who is waiting.
// It carries no mutex of its own - the owning shard's mutex protects it.
type lockEntry struct {
	granted []*LockRequest
	waiters []*LockRequest
}

func (e *lockEntry) empty() bool {
	return len(e.granted) == 0 && len(e.waiters) == 0
}

// insert places req in the waiter queue, honoring upgrade priority: an
// upgrade request (Read held, Write wanted by the same locker) is inserted
// ahead of every non-upgrade waiter, but behind any upgrade requests already
// queued (upgrades themselves stay FIFO among each other).
func (e *lockEntry) insert(req *LockRequest) {
	if !req.upgrade {
		e.waiters = append(e.waiters, req)
		return
	}
	i := 0
	for i < len(e.waiters) && e.waiters[i].upgrade {
		i++
	}
	e.waiters = append(e.waiters, nil)
	copy(e.waiters[i+1:], e.waiters[i:])
	e.waiters[i] = req
}

// grant runs the grant rule from the head of the wait queue, stopping at
// the first waiter that cannot be satisfied. It returns every request newly
// granted; LockManager resolve()s them after the shard mutex is released. A
// waiter whose timer fires in between finds its request among the granted
// ones (see LockManager.abandon) and treats it as a grant.
func (e *lockEntry) grant() []*LockRequest {
	var newlyGranted []*LockRequest
	for len(e.waiters) > 0 {
		w := e.waiters[0]
		if w.forWrite {
			selfUpgrade := len(e.granted) == 1 && e.granted[0].locker == w.locker
			if len(e.granted) != 0 && !selfUpgrade {
				break
			}
			if selfUpgrade {
				e.granted = e.granted[:0]
			}
			e.granted = append(e.granted, w)
			e.waiters = e.waiters[1:]
			newlyGranted = append(newlyGranted, w)
			continue
		}

		if e.hasWriter() {
			break
		}
		e.granted = append(e.granted, w)
		e.waiters = e.waiters[1:]
		newlyGranted = append(newlyGranted, w)
	}
	return newlyGranted
}

func (e *lockEntry) hasWriter() bool {
	for _, g := range e.granted {
		if g.forWrite {
			return true
		}
	}
	return false
}

// releaseFor removes l's current grant on this key, if any, and re-runs the
// grant rule. It reports whether l actually held a grant to release.
func (e *lockEntry) releaseFor(l *Locker) (released bool, newlyGranted []*LockRequest) {
	for i, g := range e.granted {
		if g.locker == l {
			e.granted = append(e.granted[:i], e.granted[i+1:]...)
			released = true
			break
		}
	}
	if released {
		newlyGranted = e.grant()
	}
	return
}

// removeWaiter drops req from the wait queue if it is still there (used
// when abandoning a timed-out or interrupted wait, and when a deadlock
// victim is chosen), then re-runs the grant rule, since a waiter queued
// behind req may now be grantable. Requests granted that way are resolved
// here, under the shard mutex.
func (e *lockEntry) removeWaiter(req *LockRequest) (removed bool) {
	for i, w := range e.waiters {
		if w == req {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			for _, g := range e.grant() {
				g.resolve()
			}
			return true
		}
	}
	return false
}

// selfHolds reports whether locker already holds key, and in which mode.
func (e *lockEntry) selfHolds(l *Locker) (held bool, write bool) {
	for _, g := range e.granted {
		if g.locker == l {
			return true, g.forWrite
		}
	}
	return false, false
}
