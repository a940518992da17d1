package transaction

import (
	"sync"

	"darkstar/access/concurrency"
)

// shard is one independently-mutexed partition of the lock map.
type shard struct {
	mu    sync.Mutex
	locks map[Key]*lockEntry
}

// LockMap is the sharded Key -> lockEntry table every LockManager operates
// over. Splitting the table into a fixed number of shards, each behind its
// own mutex, bounds contention: unrelated keys almost never fight over the
// same mutex, and the deadlock detector can walk shard-by-shard instead of
// freezing the whole table.
type LockMap struct {
	shards []*shard
	guard  *concurrency.ShardOrderGuard
}

// NewLockMap builds a LockMap with numShards partitions. numShards is
// clamped to at least 1.
func NewLockMap(numShards int) *LockMap {
	if numShards <= 0 {
		numShards = 1
	}
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = &shard{locks: make(map[Key]*lockEntry)}
	}
	return &LockMap{shards: shards, guard: concurrency.NewShardOrderGuard(numShards)}
}

// NumShards returns the shard count.
func (m *LockMap) NumShards() int {
	return len(m.shards)
}

// Guard returns the ShardOrderGuard this map enforces multi-shard
// acquisition order with.
func (m *LockMap) Guard() *concurrency.ShardOrderGuard {
	return m.guard
}

func (m *LockMap) shardIndex(k Key) int {
	return int(k.hash() % uint64(len(m.shards)))
}

func (m *LockMap) shardFor(k Key) *shard {
	return m.shards[m.shardIndex(k)]
}

// withShard runs fn with the shard owning k locked, creating the shard's
// lockEntry for k on first use and removing it again if fn leaves it empty.
func (m *LockMap) withShard(k Key, fn func(e *lockEntry) []*LockRequest) []*LockRequest {
	s := m.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.locks[k]
	if !ok {
		e = &lockEntry{}
		s.locks[k] = e
	}
	resolved := fn(e)
	if e.empty() {
		delete(s.locks, k)
	}
	return resolved
}

// peekShard runs fn with the shard owning k locked for read-only
// inspection (the deadlock detector's graph walk). It does not create or
// remove entries.
func (m *LockMap) peekShard(k Key, fn func(e *lockEntry)) {
	s := m.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.locks[k]; ok {
		fn(e)
	}
}

// forEachShard visits every shard in ascending index order, holding each
// one's mutex only for the duration of fn. This is the only place anything
// touches more than one shard mutex per call, and it always proceeds in
// ascending order, satisfying the ShardOrderGuard rule by construction.
func (m *LockMap) forEachShard(fn func(idx int, s *shard)) {
	for i, s := range m.shards {
		s.mu.Lock()
		fn(i, s)
		s.mu.Unlock()
	}
}

// KeySnapshot is a diagnostic summary of one key's current lock state.
type KeySnapshot struct {
	Key       Key
	Granted   int
	Waiting   int
	HasWriter bool
}

// Snapshot walks every shard in ascending index order and returns a
// diagnostic summary of every key currently tracked across the whole map.
// It is the one code path in this package that holds more than one shard
// mutex per call, so it validates its own traversal order against the
// map's ShardOrderGuard before acquiring anything.
func (m *LockMap) Snapshot() []KeySnapshot {
	indices := make([]int, len(m.shards))
	for i := range m.shards {
		indices[i] = i
	}
	if err := m.guard.Sequence(m.guard.Order(indices)); err != nil {
		panic("transaction: lock map shard traversal order violated: " + err.Error())
	}

	var out []KeySnapshot
	m.forEachShard(func(idx int, s *shard) {
		for k, e := range s.locks {
			out = append(out, KeySnapshot{
				Key:       k,
				Granted:   len(e.granted),
				Waiting:   len(e.waiters),
				HasWriter: e.hasWriter(),
			})
		}
	})
	return out
}
