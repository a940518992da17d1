package transaction

import (
	"context"
	"testing"
	"time"
)

func newTestLockManager(t *testing.T) *LockManager {
	t.Helper()
	return NewLockManager(4, WithLockTimeout(150*time.Millisecond))
}

func testLocker(lm *LockManager, id string, timeout time.Duration) *Locker {
	txn := newExampleTxn(id, timeout)
	return lm.NewLocker(txn, txn.CreationTime().UnixNano())
}

func TestLockGrantedWhenFree(t *testing.T) {
	lm := newTestLockManager(t)
	locker := testLocker(lm, "t1", time.Second)

	conflict, err := lm.Lock(context.Background(), locker, Key{Source: "tbl", ObjectID: "k1"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conflict != nil {
		t.Fatalf("expected grant, got conflict %v", conflict)
	}
}

func TestReadLocksAreShared(t *testing.T) {
	lm := newTestLockManager(t)
	key := Key{Source: "tbl", ObjectID: "k1"}
	a := testLocker(lm, "a", time.Second)
	b := testLocker(lm, "b", time.Second)

	if conflict, err := lm.Lock(context.Background(), a, key, false); err != nil || conflict != nil {
		t.Fatalf("a: got conflict=%v err=%v", conflict, err)
	}
	if conflict, err := lm.Lock(context.Background(), b, key, false); err != nil || conflict != nil {
		t.Fatalf("b: got conflict=%v err=%v", conflict, err)
	}
}

func TestWriteLockExcludesReaders(t *testing.T) {
	lm := newTestLockManager(t)
	key := Key{Source: "tbl", ObjectID: "k1"}
	writer := testLocker(lm, "writer", time.Second)
	reader := testLocker(lm, "reader", time.Second)

	if conflict, err := lm.Lock(context.Background(), writer, key, true); err != nil || conflict != nil {
		t.Fatalf("writer: got conflict=%v err=%v", conflict, err)
	}

	conflict, err := lm.LockNoWait(reader, key, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conflict == nil || conflict.Kind != ConflictBlocked {
		t.Fatalf("expected reader to block, got %v", conflict)
	}
}

func TestBlockedReaderGrantedOnRelease(t *testing.T) {
	lm := newTestLockManager(t)
	key := Key{Source: "tbl", ObjectID: "k1"}
	writer := testLocker(lm, "writer", time.Second)
	reader := testLocker(lm, "reader", time.Second)

	if _, err := lm.Lock(context.Background(), writer, key, true); err != nil {
		t.Fatalf("writer lock: %v", err)
	}
	conflict, err := lm.LockNoWait(reader, key, false)
	if err != nil || conflict == nil || conflict.Kind != ConflictBlocked {
		t.Fatalf("expected block, got conflict=%v err=%v", conflict, err)
	}

	resultCh := make(chan *Conflict, 1)
	go func() {
		c, _ := lm.WaitForLock(context.Background(), reader)
		resultCh <- c
	}()

	time.Sleep(10 * time.Millisecond)
	if err := lm.ReleaseLock(writer, key); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case c := <-resultCh:
		if c != nil {
			t.Fatalf("expected grant after release, got %v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reader to be granted")
	}
}

func TestUpgradeJumpsAheadOfOtherWaiters(t *testing.T) {
	lm := newTestLockManager(t)
	key := Key{Source: "tbl", ObjectID: "k1"}

	holder := testLocker(lm, "holder", time.Second)
	if _, err := lm.Lock(context.Background(), holder, key, false); err != nil {
		t.Fatalf("holder read: %v", err)
	}
	otherReader := testLocker(lm, "other", time.Second)
	if _, err := lm.Lock(context.Background(), otherReader, key, false); err != nil {
		t.Fatalf("other reader read: %v", err)
	}

	thirdParty := testLocker(lm, "third", time.Second)
	if conflict, err := lm.LockNoWait(thirdParty, key, true); err != nil || conflict == nil || conflict.Kind != ConflictBlocked {
		t.Fatalf("third party should block, got %v/%v", conflict, err)
	}

	upgradeConflict, err := lm.LockNoWait(holder, key, true)
	if err != nil {
		t.Fatalf("upgrade request: %v", err)
	}
	if upgradeConflict == nil || upgradeConflict.Kind != ConflictBlocked {
		t.Fatalf("upgrade should block behind the other reader's grant, got %v", upgradeConflict)
	}

	order := make(chan string, 2)
	go func() {
		lm.WaitForLock(context.Background(), thirdParty)
		order <- "third"
	}()
	go func() {
		lm.WaitForLock(context.Background(), holder)
		order <- "holder"
	}()

	time.Sleep(10 * time.Millisecond)
	if err := lm.ReleaseLock(otherReader, key); err != nil {
		t.Fatalf("release the other reader's grant: %v", err)
	}

	first := <-order
	if first != "holder" {
		t.Fatalf("expected upgrade to be granted ahead of the third-party waiter, got %q first", first)
	}
	<-order
}

func TestLockTimesOutWhenNeverReleased(t *testing.T) {
	lm := NewLockManager(4, WithLockTimeout(30*time.Millisecond))
	key := Key{Source: "tbl", ObjectID: "k1"}
	writer := testLocker(lm, "writer", time.Second)
	if _, err := lm.Lock(context.Background(), writer, key, true); err != nil {
		t.Fatalf("writer lock: %v", err)
	}

	waiter := testLocker(lm, "waiter", time.Second)
	conflict, err := lm.Lock(context.Background(), waiter, key, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conflict == nil || conflict.Kind != ConflictTimeout {
		t.Fatalf("expected timeout, got %v", conflict)
	}
}

func TestLockInterruptedByContextCancel(t *testing.T) {
	lm := newTestLockManager(t)
	key := Key{Source: "tbl", ObjectID: "k1"}
	writer := testLocker(lm, "writer", time.Second)
	if _, err := lm.Lock(context.Background(), writer, key, true); err != nil {
		t.Fatalf("writer lock: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	waiter := testLocker(lm, "waiter", time.Second)

	resultCh := make(chan *Conflict, 1)
	go func() {
		c, _ := lm.Lock(ctx, waiter, key, true)
		resultCh <- c
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case c := <-resultCh:
		if c == nil || c.Kind != ConflictInterrupted {
			t.Fatalf("expected interrupted, got %v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interruption")
	}
}

func TestReleaseUnheldKeyIsNoOp(t *testing.T) {
	lm := newTestLockManager(t)
	locker := testLocker(lm, "t1", time.Second)
	err := lm.ReleaseLock(locker, Key{Source: "tbl", ObjectID: "nope"})
	if err != nil {
		t.Fatalf("expected releasing an unheld key to be a no-op, got %v", err)
	}
}

func TestConcurrentCallsAgainstSameLockerAreRejected(t *testing.T) {
	lm := newTestLockManager(t)
	key := Key{Source: "tbl", ObjectID: "k1"}
	writer := testLocker(lm, "writer", time.Second)
	lm.Lock(context.Background(), writer, key, true)

	waiter := testLocker(lm, "waiter", time.Second)
	lm.LockNoWait(waiter, key, true)

	waitStarted := make(chan struct{})
	go func() {
		close(waitStarted)
		lm.WaitForLock(context.Background(), waiter)
	}()
	<-waitStarted
	time.Sleep(5 * time.Millisecond)

	if _, err := lm.LockNoWait(waiter, Key{Source: "tbl", ObjectID: "other"}, false); err == nil {
		t.Fatal("expected a concurrent call against the same locker to be rejected")
	}
	lm.ReleaseLock(writer, key)
}

func TestDeadlockVictimNeverGrantedAgain(t *testing.T) {
	lm := NewLockManager(4, WithLockTimeout(2*time.Second))
	keyX := Key{Source: "tbl", ObjectID: "x"}
	keyY := Key{Source: "tbl", ObjectID: "y"}

	olderTxn := newExampleTxn("older", 5*time.Second)
	older := lm.NewLocker(olderTxn, olderTxn.CreationTime().UnixNano())
	time.Sleep(2 * time.Millisecond)
	youngerTxn := newExampleTxn("younger", 5*time.Second)
	younger := lm.NewLocker(youngerTxn, youngerTxn.CreationTime().UnixNano())

	if _, err := lm.Lock(context.Background(), older, keyX, true); err != nil {
		t.Fatalf("older lock x: %v", err)
	}
	if _, err := lm.Lock(context.Background(), younger, keyY, true); err != nil {
		t.Fatalf("younger lock y: %v", err)
	}

	olderResult := make(chan *Conflict, 1)
	go func() {
		c, _ := lm.Lock(context.Background(), older, keyY, true)
		olderResult <- c
	}()
	time.Sleep(20 * time.Millisecond)

	conflict, err := lm.Lock(context.Background(), younger, keyX, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conflict == nil || conflict.Kind != ConflictDeadlock {
		t.Fatalf("expected younger to be the deadlock victim, got %v", conflict)
	}

	if _, err := lm.Lock(context.Background(), younger, Key{Source: "tbl", ObjectID: "z"}, true); err == nil {
		t.Fatal("expected a locker that has observed Deadlock to never be granted another lock")
	} else if _, ok := err.(*IllegalStateError); !ok {
		t.Fatalf("expected IllegalStateError, got %v (%T)", err, err)
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

func TestMaxWaitQueueDeniesOutright(t *testing.T) {
	lm := NewLockManager(4, WithLockTimeout(time.Second), WithMaxWaitQueue(1))
	key := Key{Source: "tbl", ObjectID: "k1"}
	writer := testLocker(lm, "writer", time.Second)
	lm.Lock(context.Background(), writer, key, true)

	firstWaiter := testLocker(lm, "w1", time.Second)
	conflict, err := lm.LockNoWait(firstWaiter, key, true)
	if err != nil || conflict == nil || conflict.Kind != ConflictBlocked {
		t.Fatalf("first waiter should queue, got %v/%v", conflict, err)
	}

	secondWaiter := testLocker(lm, "w2", time.Second)
	conflict, err = lm.LockNoWait(secondWaiter, key, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conflict == nil || conflict.Kind != ConflictDenied {
		t.Fatalf("expected denial once the wait queue is full, got %v", conflict)
	}
}
