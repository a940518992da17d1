package audit

import (
	"bytes"
	"testing"

	"darkstar/access/transaction"
)

func detail(id string) transaction.AccessDetail {
	return transaction.AccessDetail{
		TxnID: transaction.TxnID(id),
		Objects: []transaction.AccessedObject{
			{Source: "accounts", ObjectID: "alice", Mode: transaction.Write},
		},
		Summary: transaction.ConflictNone,
	}
}

func TestTrailHoldsUpToCapacity(t *testing.T) {
	trail := New(2)
	trail.SetAccessedObjectsDetail(detail("t1"))
	trail.SetAccessedObjectsDetail(detail("t2"))

	recent := trail.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].Detail.TxnID != "t1" || recent[1].Detail.TxnID != "t2" {
		t.Fatalf("unexpected order: %+v", recent)
	}
}

func TestTrailEvictsOldestWhenFull(t *testing.T) {
	trail := New(2)
	trail.SetAccessedObjectsDetail(detail("t1"))
	trail.SetAccessedObjectsDetail(detail("t2"))
	trail.SetAccessedObjectsDetail(detail("t3"))

	recent := trail.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 records after eviction, got %d", len(recent))
	}
	if recent[0].Detail.TxnID != "t2" || recent[1].Detail.TxnID != "t3" {
		t.Fatalf("expected t1 to be evicted, got %+v", recent)
	}
}

type nopWriteCloser struct {
	bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

func TestTrailFlushesEvictedRecords(t *testing.T) {
	var buf nopWriteCloser
	trail := New(1)
	trail.AttachFlush(&buf)

	trail.SetAccessedObjectsDetail(detail("t1"))
	trail.SetAccessedObjectsDetail(detail("t2"))

	if err := trail.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected the evicted record to be flushed to the writer")
	}
}
