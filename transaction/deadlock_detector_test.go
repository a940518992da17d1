package transaction

import (
	"context"
	"testing"
	"time"
)

func TestClassicTwoTransactionDeadlockPicksYoungestVictim(t *testing.T) {
	lm := NewLockManager(4, WithLockTimeout(2*time.Second))

	olderTxn := newExampleTxn("older", 5*time.Second)
	older := lm.NewLocker(olderTxn, olderTxn.CreationTime().UnixNano())
	time.Sleep(2 * time.Millisecond)
	youngerTxn := newExampleTxn("younger", 5*time.Second)
	younger := lm.NewLocker(youngerTxn, youngerTxn.CreationTime().UnixNano())

	keyX := Key{Source: "tbl", ObjectID: "x"}
	keyY := Key{Source: "tbl", ObjectID: "y"}

	if _, err := lm.Lock(context.Background(), older, keyX, true); err != nil {
		t.Fatalf("older lock x: %v", err)
	}
	if _, err := lm.Lock(context.Background(), younger, keyY, true); err != nil {
		t.Fatalf("younger lock y: %v", err)
	}

	olderResult := make(chan *Conflict, 1)
	youngerResult := make(chan *Conflict, 1)

	go func() {
		c, _ := lm.Lock(context.Background(), older, keyY, true)
		olderResult <- c
	}()

	time.Sleep(20 * time.Millisecond)

	go func() {
		c, _ := lm.Lock(context.Background(), younger, keyX, true)
		youngerResult <- c
	}()

	select {
	case c := <-youngerResult:
		if c == nil || c.Kind != ConflictDeadlock {
			t.Fatalf("expected younger transaction to be the deadlock victim, got %v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deadlock to resolve")
	}

	if err := lm.ReleaseLock(younger, keyY); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case c := <-olderResult:
		if c != nil {
			t.Fatalf("expected older transaction to be granted y, got %v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for older transaction's grant")
	}
}

// TestCompatibleReadHolderDoesNotCountAsWaitForEdge guards against drawing a
// wait-for edge to every granted holder regardless of mode: a read waiter
// queued (FIFO) behind a write waiter is not actually blocked by a fellow
// reader already granted on the same key, and must not be treated as if it
// were, or an unrelated writer-vs-writer edge elsewhere can combine with the
// spurious read-vs-read edge into a cycle that was never really there.
func TestCompatibleReadHolderDoesNotCountAsWaitForEdge(t *testing.T) {
	lm := NewLockManager(4, WithLockTimeout(2*time.Second))
	keyY := Key{Source: "tbl", ObjectID: "y"}
	keyZ := Key{Source: "tbl", ObjectID: "z"}

	a := testLocker(lm, "a", 5*time.Second)
	b := testLocker(lm, "b", 5*time.Second)
	c := testLocker(lm, "c", 5*time.Second)

	if _, err := lm.Lock(context.Background(), a, keyY, false); err != nil {
		t.Fatalf("a read y: %v", err)
	}
	if _, err := lm.Lock(context.Background(), c, keyZ, true); err != nil {
		t.Fatalf("c write z: %v", err)
	}

	// b wants to write y: genuinely incompatible with a's read grant, so it
	// queues behind a.
	if conflict, err := lm.LockNoWait(b, keyY, true); err != nil || conflict == nil || conflict.Kind != ConflictBlocked {
		t.Fatalf("b should block behind a's read grant, got conflict=%v err=%v", conflict, err)
	}

	// c also wants to read y. FIFO puts it behind b's write request, but c's
	// read is perfectly compatible with a's existing read grant - it is not
	// actually waiting on a.
	if conflict, err := lm.LockNoWait(c, keyY, false); err != nil || conflict == nil || conflict.Kind != ConflictBlocked {
		t.Fatalf("c should queue behind b, got conflict=%v err=%v", conflict, err)
	}

	// a now wants to write z, held by c: a genuine edge a -> c. If c's read
	// wait on y were (wrongly) treated as an edge to a, this would close a
	// false cycle a -> c -> a and pick a spurious victim.
	if conflict, err := lm.LockNoWait(a, keyZ, true); err != nil || conflict == nil || conflict.Kind != ConflictBlocked {
		t.Fatalf("a should block behind c's write grant, got conflict=%v err=%v", conflict, err)
	}

	if a.getConflict() == ConflictDeadlock || b.getConflict() == ConflictDeadlock || c.getConflict() == ConflictDeadlock {
		t.Fatalf("no cycle through incompatible granted holders exists; nobody should have been picked as a deadlock victim (a=%v b=%v c=%v)",
			a.getConflict(), b.getConflict(), c.getConflict())
	}
}

func TestSelectVictimTieBreaksByTxnID(t *testing.T) {
	now := time.Now()
	a := &Locker{age: now.UnixNano(), label: "b-txn"}
	b := &Locker{age: now.UnixNano(), label: "a-txn"}

	victim := selectVictim([]*Locker{a, b})
	if victim.ID() != "b-txn" {
		t.Fatalf("expected lexicographically greatest id to be picked, got %s", victim.ID())
	}
}

func TestSelectVictimPicksYoungest(t *testing.T) {
	base := time.Now()
	old := &Locker{age: base.UnixNano(), label: "old"}
	young := &Locker{age: base.Add(time.Second).UnixNano(), label: "young"}

	victim := selectVictim([]*Locker{old, young})
	if victim.ID() != "young" {
		t.Fatalf("expected youngest transaction to be picked, got %s", victim.ID())
	}
}
