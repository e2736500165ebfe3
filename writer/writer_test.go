package writer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"deriflow/ringbuf"
)

// stubSink collects committed batches and can fail a set number of times.
type stubSink struct {
	mu        sync.Mutex
	schemas   map[string][]string
	committed []ringbuf.Batch
	failures  int
}

func newStubSink() *stubSink {
	return &stubSink{schemas: make(map[string][]string)}
}

func (s *stubSink) EnsureSchema(ctx context.Context, table string, columns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[table] = columns
	return nil
}

func (s *stubSink) Commit(ctx context.Context, batch ringbuf.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("transient storage fault")
	}
	s.committed = append(s.committed, batch)
	return nil
}

func (s *stubSink) committedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

func newTestBuffer(t *testing.T) *ringbuf.RingBatchBuffer {
	t.Helper()
	buf, err := ringbuf.NewRingBatchBuffer("table_test", []string{"A", "B"}, 2, 2, 4)
	if err != nil {
		t.Fatalf("NewRingBatchBuffer failed: %v", err)
	}
	return buf
}

func TestWriterCommitsBatches(t *testing.T) {
	sink := newStubSink()
	buf := newTestBuffer(t)
	w := NewWriter(sink, []*ringbuf.RingBatchBuffer{buf})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("expected error on second start")
	}

	if cols, ok := sink.schemas["table_test"]; !ok || len(cols) != 2 {
		t.Fatalf("schema not recorded: %v", sink.schemas)
	}

	for i := 0; i < 4; i++ {
		if err := buf.Append(ctx, []float64{float64(i), 0}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	buf.Close()
	w.Stop()

	if got := sink.committedCount(); got != 2 {
		t.Fatalf("committed %d batches, want 2", got)
	}
}

func TestWriterDrainsAfterCancel(t *testing.T) {
	sink := newStubSink()
	buf := newTestBuffer(t)
	w := NewWriter(sink, []*ringbuf.RingBatchBuffer{buf})

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := buf.Append(ctx, []float64{1, 2}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	buf.Close()

	// shutdown batches flushed after cancellation must still commit
	cancel()
	w.Stop()

	if got := sink.committedCount(); got != 1 {
		t.Fatalf("committed %d batches, want 1", got)
	}
}

func TestWriterRetriesFailedCommit(t *testing.T) {
	sink := newStubSink()
	sink.failures = 1
	buf := newTestBuffer(t)
	w := NewWriter(sink, []*ringbuf.RingBatchBuffer{buf})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := buf.Append(ctx, []float64{1, 2}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	buf.Close()

	deadline := time.Now().Add(5 * time.Second)
	for sink.committedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed commit was never retried")
		}
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()
}
