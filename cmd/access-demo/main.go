// Command access-demo wires together config, structured logging, the
// audit trail, and the access coordinator, then runs the classic
// two-transaction deadlock scenario end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"darkstar/access/audit"
	"darkstar/access/config"
	"darkstar/access/logging"
	"darkstar/access/transaction"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; falls back to env/defaults)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("access-demo: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("access-demo: %v", err)
	}
	logger := logging.New(level, "access-demo")

	trail := audit.New(100)
	defer trail.Close()

	lm := transaction.NewLockManager(cfg.Access.NumKeyMaps,
		transaction.WithLockTimeout(cfg.Access.LockTimeout),
		transaction.WithMaxWaitQueue(cfg.Access.MaxWaitQueue),
		transaction.WithLogger(logger),
	)
	coordinator := transaction.NewAccessCoordinator(lm, trail, logger)
	accounts := transaction.RegisterAccessSource[string](coordinator, "accounts")

	runDeadlockScenario(coordinator, accounts, cfg.Access.TxnTimeout)

	if snapshot := lm.Snapshot(); len(snapshot) > 0 {
		fmt.Println("\nlock map not fully drained:")
		for _, s := range snapshot {
			fmt.Printf("  %s granted=%d waiting=%d writer=%v\n", s.Key, s.Granted, s.Waiting, s.HasWriter)
		}
	}

	fmt.Println("\naudit trail:")
	for _, record := range trail.Recent() {
		fmt.Printf("  %s txn=%s summary=%s objects=%d\n",
			record.ObservedAt.Format(time.RFC3339), record.Detail.TxnID, record.Detail.Summary, len(record.Detail.Objects))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.LoadFromEnv()
}

type demoTxn struct {
	id        transaction.TxnID
	created   time.Time
	timeout   time.Duration
	listeners []func()
}

func newDemoTxn(id string, timeout time.Duration) *demoTxn {
	return &demoTxn{id: transaction.TxnID(id), created: time.Now(), timeout: timeout}
}

func (t *demoTxn) ID() transaction.TxnID              { return t.id }
func (t *demoTxn) CreationTime() time.Time             { return t.created }
func (t *demoTxn) Timeout() time.Duration              { return t.timeout }
func (t *demoTxn) RegisterCompletionListener(l func()) { t.listeners = append(t.listeners, l) }

func (t *demoTxn) complete() {
	for _, l := range t.listeners {
		l()
	}
}

func (t *demoTxn) Abort(err error) {
	fmt.Fprintf(os.Stderr, "transaction %s aborted: %v\n", t.id, err)
	t.complete()
}

func runDeadlockScenario(c *transaction.AccessCoordinator, accounts *transaction.AccessReporter[string], txnTimeout time.Duration) {
	txnA := newDemoTxn("txn-A", txnTimeout)
	txnB := newDemoTxn("txn-B", txnTimeout)
	c.NotifyNewTransaction(txnA, txnA.CreationTime().UnixNano(), 1)
	c.NotifyNewTransaction(txnB, txnB.CreationTime().UnixNano(), 1)

	ctx := context.Background()
	if err := accounts.ReportObjectAccess(ctx, txnA, "x", transaction.Write); err != nil {
		log.Fatalf("txn-A failed to acquire x: %v", err)
	}
	if err := accounts.ReportObjectAccess(ctx, txnB, "y", transaction.Write); err != nil {
		log.Fatalf("txn-B failed to acquire y: %v", err)
	}
	fmt.Println("txn-A holds x, txn-B holds y")

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- accounts.ReportObjectAccess(ctx, txnA, "y", transaction.Write) }()
	go func() { errB <- accounts.ReportObjectAccess(ctx, txnB, "x", transaction.Write) }()

	resA, resB := <-errA, <-errB
	if resA == nil {
		fmt.Println("txn-A granted y; committing")
		txnA.complete()
	}
	if resB == nil {
		fmt.Println("txn-B granted x; committing")
		txnB.complete()
	}
}
