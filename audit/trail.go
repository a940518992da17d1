// Package audit provides a local, in-process transaction.ProfileSink
// implementation: a bounded ring buffer of access-detail records, each
// persisted to an append-only snappy-compressed log as it is evicted. It
// exists so the access-coordination core has somewhere to send completed
// transactions' access-detail records when the host application doesn't
// wire up its own sink.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/golang/snappy"

	"darkstar/access/transaction"
)

// Record is one audit entry: an access-detail record plus when the Trail
// observed it.
type Record struct {
	ObservedAt time.Time                `json:"observed_at"`
	Detail     transaction.AccessDetail `json:"detail"`
}

// Trail is a bounded ring buffer of Records implementing
// transaction.ProfileSink. Once the buffer is full, the oldest record is
// evicted and, if a flush writer is attached, appended to it
// snappy-compressed.
type Trail struct {
	mu       sync.Mutex
	capacity int
	records  []Record
	next     int
	size     int
	flush    *flushWriter
}

// New builds a Trail holding up to capacity records in memory.
func New(capacity int) *Trail {
	if capacity <= 0 {
		capacity = 1
	}
	return &Trail{capacity: capacity, records: make([]Record, capacity)}
}

// AttachFlush arranges for every record evicted from the ring buffer to be
// appended, snappy-compressed, to w. Call Close to flush and release w.
func (t *Trail) AttachFlush(w io.WriteCloser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush = newFlushWriter(w)
}

// SetAccessedObjectsDetail implements transaction.ProfileSink.
func (t *Trail) SetAccessedObjectsDetail(detail transaction.AccessDetail) {
	record := Record{ObservedAt: time.Now(), Detail: detail}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size == t.capacity {
		evicted := t.records[t.next]
		if t.flush != nil {
			if err := t.flush.append(evicted); err != nil {
				fmt.Fprintf(os.Stderr, "audit: flushing evicted record: %v\n", err)
			}
		}
	} else {
		t.size++
	}

	t.records[t.next] = record
	t.next = (t.next + 1) % t.capacity
}

// Recent returns every record currently held in memory, oldest first.
func (t *Trail) Recent() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, t.size)
	start := (t.next - t.size + t.capacity) % t.capacity
	for i := 0; i < t.size; i++ {
		out = append(out, t.records[(start+i)%t.capacity])
	}
	return out
}

// Close flushes any attached writer.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flush == nil {
		return nil
	}
	return t.flush.close()
}

// flushWriter appends snappy-compressed JSON records to an underlying
// writer, each preceded by its compressed length as a 4-byte big-endian
// prefix.
type flushWriter struct {
	w  io.WriteCloser
	bw *bufio.Writer
}

func newFlushWriter(w io.WriteCloser) *flushWriter {
	return &flushWriter{w: w, bw: bufio.NewWriter(w)}
}

func (f *flushWriter) append(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: marshaling record: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	var lengthPrefix [4]byte
	n := len(compressed)
	lengthPrefix[0] = byte(n >> 24)
	lengthPrefix[1] = byte(n >> 16)
	lengthPrefix[2] = byte(n >> 8)
	lengthPrefix[3] = byte(n)

	if _, err := f.bw.Write(lengthPrefix[:]); err != nil {
		return err
	}
	_, err = f.bw.Write(compressed)
	return err
}

func (f *flushWriter) close() error {
	if err := f.bw.Flush(); err != nil {
		return err
	}
	return f.w.Close()
}
