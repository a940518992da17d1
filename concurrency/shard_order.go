// Package concurrency holds infrastructure the transaction core uses but
// that has no knowledge of transactions, keys, or locks itself: mutex
// ordering enforcement and lock-event profiling.
package concurrency

import "fmt"

// ShardOrderGuard enforces the ascending-shard-index locking rule: any code
// path that must touch more than one shard mutex in one operation acquires
// them in increasing shard-index order, never the reverse. It does not hold
// the mutexes itself; it is a cheap runtime check that a caller follows the
// rule. transaction.LockMap.Snapshot checks its traversal with it; the
// deadlock detector and the release paths take one shard mutex at a time
// and do not call it.
type ShardOrderGuard struct {
	numShards int
}

// NewShardOrderGuard builds a guard for a lock map sharded into numShards
// partitions.
func NewShardOrderGuard(numShards int) *ShardOrderGuard {
	if numShards <= 0 {
		numShards = 1
	}
	return &ShardOrderGuard{numShards: numShards}
}

// NumShards returns the shard count the guard was built for.
func (g *ShardOrderGuard) NumShards() int {
	return g.numShards
}

// Sequence validates that indices is non-decreasing and every index is in
// range, returning an error describing the first violation found. Callers
// that must touch multiple shards in one operation sort their indices with
// Order and then pass them here before acquiring anything.
func (g *ShardOrderGuard) Sequence(indices []int) error {
	last := -1
	for _, idx := range indices {
		if idx < 0 || idx >= g.numShards {
			return fmt.Errorf("concurrency: shard index %d out of range [0,%d)", idx, g.numShards)
		}
		if idx < last {
			return fmt.Errorf("concurrency: shard order violation, %d acquired after %d", idx, last)
		}
		last = idx
	}
	return nil
}

// Order returns a copy of indices sorted ascending and de-duplicated, ready
// to be acquired in that order.
func (g *ShardOrderGuard) Order(indices []int) []int {
	seen := make(map[int]struct{}, len(indices))
	ordered := make([]int, 0, len(indices))
	for _, idx := range indices {
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		ordered = append(ordered, idx)
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1] > ordered[j]; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	return ordered
}
