package transaction

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// exampleTxn is a minimal Transaction implementation used by Example and
// this package's tests (cmd/access-demo has its own); real callers plug in
// whatever owns their commit/abort/timeout policy.
type exampleTxn struct {
	id         TxnID
	created    time.Time
	timeout    time.Duration
	mu         sync.Mutex
	listeners  []func()
	aborted    bool
	abortErr   error
}

func newExampleTxn(id string, timeout time.Duration) *exampleTxn {
	return &exampleTxn{id: TxnID(id), created: time.Now(), timeout: timeout}
}

func (t *exampleTxn) ID() TxnID                  { return t.id }
func (t *exampleTxn) CreationTime() time.Time    { return t.created }
func (t *exampleTxn) Timeout() time.Duration     { return t.timeout }

func (t *exampleTxn) Abort(err error) {
	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		return
	}
	t.aborted = true
	t.abortErr = err
	listeners := append([]func(){}, t.listeners...)
	t.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

func (t *exampleTxn) Commit() {
	t.mu.Lock()
	listeners := append([]func(){}, t.listeners...)
	t.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

func (t *exampleTxn) RegisterCompletionListener(listener func()) {
	t.mu.Lock()
	t.listeners = append(t.listeners, listener)
	t.mu.Unlock()
}

// Example demonstrates the access-coordination core end to end: basic
// grant/release, a read-to-write upgrade, a blocked-then-granted wait, and the
// classic two-transaction deadlock with victim selection.
func Example() {
	lm := NewLockManager(8, WithLockTimeout(200*time.Millisecond))
	coordinator := NewAccessCoordinator(lm, nil, nil)
	accounts := RegisterAccessSource[string](coordinator, "accounts")

	fmt.Println("=== Access Coordination Example ===")

	fmt.Println("\n1. Basic grant and release:")
	demonstrateBasicAccess(coordinator, accounts)

	fmt.Println("\n2. Read-to-write upgrade:")
	demonstrateUpgrade(coordinator, accounts)

	fmt.Println("\n3. Blocked then granted on release:")
	demonstrateBlockedThenGranted(coordinator, accounts)

	fmt.Println("\n4. Classic deadlock:")
	demonstrateDeadlock(coordinator, accounts)

	fmt.Println("\n=== Example Complete ===")
}

func demonstrateBasicAccess(c *AccessCoordinator, accounts *AccessReporter[string]) {
	txn := newExampleTxn("txn-1", 5*time.Second)
	if _, err := c.NotifyNewTransaction(txn, txn.CreationTime().UnixNano(), 1); err != nil {
		log.Printf("register failed: %v", err)
		return
	}

	ctx := context.Background()
	if err := accounts.ReportObjectAccess(ctx, txn, "alice", Write); err != nil {
		log.Printf("access denied: %v", err)
		return
	}
	fmt.Println("txn-1 acquired write access to account alice")

	txn.Commit()
	fmt.Println("txn-1 committed, locks released")
}

func demonstrateUpgrade(c *AccessCoordinator, accounts *AccessReporter[string]) {
	txn := newExampleTxn("txn-2", 5*time.Second)
	c.NotifyNewTransaction(txn, txn.CreationTime().UnixNano(), 1)
	ctx := context.Background()

	accounts.ReportObjectAccess(ctx, txn, "bob", Read)
	fmt.Println("txn-2 read account bob")

	if err := accounts.ReportObjectAccess(ctx, txn, "bob", Write); err != nil {
		log.Printf("upgrade failed: %v", err)
		txn.Abort(err)
		return
	}
	fmt.Println("txn-2 upgraded to write access on account bob")

	txn.Commit()
}

func demonstrateBlockedThenGranted(c *AccessCoordinator, accounts *AccessReporter[string]) {
	holder := newExampleTxn("txn-3", 5*time.Second)
	c.NotifyNewTransaction(holder, holder.CreationTime().UnixNano(), 1)
	ctx := context.Background()
	accounts.ReportObjectAccess(ctx, holder, "carol", Write)
	fmt.Println("txn-3 holds write access to account carol")

	waiter := newExampleTxn("txn-4", 5*time.Second)
	c.NotifyNewTransaction(waiter, waiter.CreationTime().UnixNano(), 1)

	done := make(chan error, 1)
	go func() {
		done <- accounts.ReportObjectAccess(ctx, waiter, "carol", Read)
	}()

	time.Sleep(20 * time.Millisecond)
	fmt.Println("txn-4 is blocked behind txn-3's write lock")
	holder.Commit()

	if err := <-done; err != nil {
		log.Printf("txn-4 access failed: %v", err)
		return
	}
	fmt.Println("txn-4 granted read access after txn-3 released")
	waiter.Commit()
}

func demonstrateDeadlock(c *AccessCoordinator, accounts *AccessReporter[string]) {
	txnA := newExampleTxn("txn-A", 2*time.Second)
	txnB := newExampleTxn("txn-B", 2*time.Second)
	c.NotifyNewTransaction(txnA, txnA.CreationTime().UnixNano(), 1)
	c.NotifyNewTransaction(txnB, txnB.CreationTime().UnixNano(), 1)
	ctx := context.Background()

	accounts.ReportObjectAccess(ctx, txnA, "x", Write)
	accounts.ReportObjectAccess(ctx, txnB, "y", Write)
	fmt.Println("txn-A holds x, txn-B holds y")

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- accounts.ReportObjectAccess(ctx, txnA, "y", Write) }()
	go func() { errB <- accounts.ReportObjectAccess(ctx, txnB, "x", Write) }()

	resA, resB := <-errA, <-errB
	if resA != nil {
		fmt.Printf("txn-A aborted as deadlock victim: %v\n", resA)
	} else {
		fmt.Println("txn-A granted y")
		txnA.Commit()
	}
	if resB != nil {
		fmt.Printf("txn-B aborted as deadlock victim: %v\n", resB)
	} else {
		fmt.Println("txn-B granted x")
		txnB.Commit()
	}
}
