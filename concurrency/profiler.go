package concurrency

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LockEventType classifies one event recorded by a LockProfiler.
type LockEventType int

const (
	EventGranted LockEventType = iota
	EventBlocked
	EventTimeout
	EventDenied
	EventInterrupted
	EventDeadlockVictim
	EventReleased
)

func (e LockEventType) String() string {
	switch e {
	case EventGranted:
		return "GRANTED"
	case EventBlocked:
		return "BLOCKED"
	case EventTimeout:
		return "TIMEOUT"
	case EventDenied:
		return "DENIED"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventDeadlockVictim:
		return "DEADLOCK_VICTIM"
	case EventReleased:
		return "RELEASED"
	default:
		return "UNKNOWN"
	}
}

// GlobalLockStats is a snapshot of system-wide counters, trimmed to what
// the access-coordination core's diagnostics need: no fast-path/lock-pool
// machinery, no background sampling loop, just atomic counters read on
// demand.
type GlobalLockStats struct {
	Granted      int64
	Blocked      int64
	Timeouts     int64
	Denied       int64
	Interrupted  int64
	Deadlocks    int64
	Released     int64
	TotalWaitNS  int64
	MaxWaitNS    int64
}

// LockProfiler accumulates lock-event counters and per-key contention info
// for diagnostics. Unlike the teacher's version it has no background
// processing loop: every update is a plain atomic increment recorded
// synchronously by the caller, and reads (GetGlobalStats, TopContended) are
// point-in-time snapshots, not periodic rollups.
type LockProfiler struct {
	stats GlobalLockStats

	mu         sync.Mutex
	contention map[string]*keyContention
}

type keyContention struct {
	key         string
	blocks      int64
	totalWaitNS int64
	maxWaitNS   int64
}

// NewLockProfiler returns a ready-to-use profiler.
func NewLockProfiler() *LockProfiler {
	return &LockProfiler{contention: make(map[string]*keyContention)}
}

// RecordGrant records a lock grant, optionally after a wait.
func (p *LockProfiler) RecordGrant(waitTime time.Duration) {
	atomic.AddInt64(&p.stats.Granted, 1)
	if waitTime > 0 {
		p.recordWait(waitTime)
	}
}

// RecordBlocked records that a request had to queue behind a conflicting
// holder for key.
func (p *LockProfiler) RecordBlocked(key string) {
	atomic.AddInt64(&p.stats.Blocked, 1)
	p.mu.Lock()
	c, ok := p.contention[key]
	if !ok {
		c = &keyContention{key: key}
		p.contention[key] = c
	}
	c.blocks++
	p.mu.Unlock()
}

// RecordOutcome records the terminal outcome of a blocked wait.
func (p *LockProfiler) RecordOutcome(event LockEventType, waitTime time.Duration) {
	switch event {
	case EventTimeout:
		atomic.AddInt64(&p.stats.Timeouts, 1)
	case EventDenied:
		atomic.AddInt64(&p.stats.Denied, 1)
	case EventInterrupted:
		atomic.AddInt64(&p.stats.Interrupted, 1)
	case EventDeadlockVictim:
		atomic.AddInt64(&p.stats.Deadlocks, 1)
	case EventReleased:
		atomic.AddInt64(&p.stats.Released, 1)
	}
	if waitTime > 0 {
		p.recordWait(waitTime)
	}
}

func (p *LockProfiler) recordWait(waitTime time.Duration) {
	ns := waitTime.Nanoseconds()
	atomic.AddInt64(&p.stats.TotalWaitNS, ns)
	for {
		max := atomic.LoadInt64(&p.stats.MaxWaitNS)
		if ns <= max || atomic.CompareAndSwapInt64(&p.stats.MaxWaitNS, max, ns) {
			break
		}
	}
}

// GetGlobalStats returns a snapshot of the accumulated counters.
func (p *LockProfiler) GetGlobalStats() GlobalLockStats {
	return GlobalLockStats{
		Granted:     atomic.LoadInt64(&p.stats.Granted),
		Blocked:     atomic.LoadInt64(&p.stats.Blocked),
		Timeouts:    atomic.LoadInt64(&p.stats.Timeouts),
		Denied:      atomic.LoadInt64(&p.stats.Denied),
		Interrupted: atomic.LoadInt64(&p.stats.Interrupted),
		Deadlocks:   atomic.LoadInt64(&p.stats.Deadlocks),
		Released:    atomic.LoadInt64(&p.stats.Released),
		TotalWaitNS: atomic.LoadInt64(&p.stats.TotalWaitNS),
		MaxWaitNS:   atomic.LoadInt64(&p.stats.MaxWaitNS),
	}
}

// TopContended returns up to n keys with the most recorded blocks, busiest
// first.
func (p *LockProfiler) TopContended(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]*keyContention, 0, len(p.contention))
	for _, c := range p.contention {
		entries = append(entries, c)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].blocks > entries[j].blocks })
	if len(entries) > n {
		entries = entries[:n]
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}
