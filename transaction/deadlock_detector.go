package transaction

import (
	"darkstar/access/concurrency"
)

// deadlockDetector walks the wait-for graph implied by the LockMap's
// current grants/waiters, starting from a locker that has just blocked. It
// runs synchronously inside LockNoWait rather than on a periodic sweep: the
// spec requires bounded per-call latency, not a background loop, and a DFS
// from a single new edge is cheap compared to re-scanning the whole table.
type deadlockDetector struct {
	mapp     *LockMap
	profiler *concurrency.LockProfiler
	logger   Logger
}

func newDeadlockDetector(mapp *LockMap, profiler *concurrency.LockProfiler, logger Logger) *deadlockDetector {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &deadlockDetector{mapp: mapp, profiler: profiler, logger: logger}
}

// check follows the wait-for chain starting at blocked (which must already
// have Waiting() set) looking for a cycle back to blocked itself. If one is
// found, it selects a victim among the cycle's members and resolves that
// victim's wait with ConflictDeadlock.
func (d *deadlockDetector) check(blocked *Locker) {
	visited := map[*Locker]bool{blocked: true}
	cycle := d.findCycle(blocked, blocked, visited, nil)
	if cycle == nil {
		return
	}

	victim := selectVictim(cycle)
	req := victim.Waiting()
	if req == nil {
		// Race: the victim's wait was already resolved (granted, timed
		// out, or interrupted) by the time we got here. Nothing to do.
		return
	}

	victim.setConflict(ConflictDeadlock)
	d.mapp.withShard(req.key, func(e *lockEntry) []*LockRequest {
		e.removeWaiter(req)
		return nil
	})
	req.resolve()

	d.logger.Warn("deadlock detected",
		Field{Key: "victim", Value: string(victim.ID())},
		Field{Key: "cycle_size", Value: len(cycle)},
	)
}

// findCycle performs a DFS from current, following the single wait-for
// edge out of each locker (the key it's blocked on, to whoever currently
// holds that key). It returns the lockers on the path from origin back to
// origin the first time it finds one, or nil if current's chain dead-ends
// without looping back.
func (d *deadlockDetector) findCycle(origin, current *Locker, visited map[*Locker]bool, path []*Locker) []*Locker {
	req := current.Waiting()
	if req == nil {
		return nil
	}

	// Only granted holders incompatible with req's mode actually block it: a
	// queued reader is never waiting on other readers, only on a writer.
	var holders []*Locker
	d.mapp.peekShard(req.key, func(e *lockEntry) {
		for _, g := range e.granted {
			if req.forWrite || g.forWrite {
				holders = append(holders, g.locker)
			}
		}
	})

	for _, h := range holders {
		if h == current {
			continue
		}
		if h == origin {
			full := make([]*Locker, 0, len(path)+2)
			full = append(full, path...)
			full = append(full, current, origin)
			return full
		}
		if visited[h] {
			continue
		}
		visited[h] = true
		if cyc := d.findCycle(origin, h, visited, append(path, current)); cyc != nil {
			return cyc
		}
	}
	return nil
}

// selectVictim picks the youngest transaction among the cycle's distinct
// members (largest Age(), i.e. latest requested start time), breaking ties by
// lexicographically greatest transaction id so the choice is deterministic
// no matter which locker in the cycle triggered detection.
func selectVictim(cycle []*Locker) *Locker {
	seen := make(map[*Locker]bool, len(cycle))
	var unique []*Locker
	for _, l := range cycle {
		if seen[l] {
			continue
		}
		seen[l] = true
		unique = append(unique, l)
	}

	victim := unique[0]
	for _, l := range unique[1:] {
		if l.Age() > victim.Age() || (l.Age() == victim.Age() && l.ID() > victim.ID()) {
			victim = l
		}
	}
	return victim
}
