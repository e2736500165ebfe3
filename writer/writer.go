package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deriflow/logger"
	"deriflow/ringbuf"
)

const (
	commitBaseDelay = time.Second
	commitMaxDelay  = time.Minute
)

// Writer drains every ring buffer's handoff channel into the sink. A
// filled batch is never dropped: commits are retried with backoff until
// they succeed or the drain deadline at shutdown expires.
type Writer struct {
	sink    Sink
	buffers []*ringbuf.RingBatchBuffer

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewWriter(sink Sink, buffers []*ringbuf.RingBatchBuffer) *Writer {
	return &Writer{
		sink:    sink,
		buffers: buffers,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// Start records each table's schema and launches one drain worker per
// buffer.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("writer").WithFields(logger.Fields{"operation": "start"})
	for _, buf := range w.buffers {
		if err := w.sink.EnsureSchema(ctx, buf.Table(), buf.Columns()); err != nil {
			return fmt.Errorf("ensure schema for %s: %w", buf.Table(), err)
		}
	}

	for _, buf := range w.buffers {
		w.wg.Add(1)
		go w.drain(buf)
	}

	log.WithFields(logger.Fields{"buffers": len(w.buffers)}).Info("writer started successfully")
	return nil
}

// Stop waits until every drain worker has consumed its closed channel.
// Callers must flush and close the buffers first.
func (w *Writer) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent("writer").Info("stopping writer")
	w.wg.Wait()
	w.log.WithComponent("writer").Info("writer stopped")
}

// drain commits batches until the buffer's channel closes. The channel is
// drained even after context cancellation so flushed shutdown batches
// still reach the sink.
func (w *Writer) drain(buf *ringbuf.RingBatchBuffer) {
	defer w.wg.Done()
	log := w.log.WithComponent("writer").WithFields(logger.Fields{"table": buf.Table(), "worker": "drain"})

	for batch := range buf.Batches() {
		w.commit(batch, log)
	}
	log.Info("handoff channel drained")
}

func (w *Writer) commit(batch ringbuf.Batch, log *logger.Entry) {
	delay := commitBaseDelay
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), commitMaxDelay)
		err := w.sink.Commit(ctx, batch)
		cancel()
		if err == nil {
			logger.IncrementBatchesCommitted()
			return
		}

		log.WithError(err).WithFields(logger.Fields{
			"batch_id": batch.ID,
			"attempt":  attempt,
			"delay":    delay.String(),
		}).Warn("commit failed, retrying")

		select {
		case <-time.After(delay):
		case <-w.ctx.Done():
			// one last try on a fresh deadline before giving up the
			// process; losing a filled batch is reported loudly
			ctx, cancel := context.WithTimeout(context.Background(), commitMaxDelay)
			err := w.sink.Commit(ctx, batch)
			cancel()
			if err == nil {
				logger.IncrementBatchesCommitted()
				return
			}
			log.WithError(err).WithFields(logger.Fields{"batch_id": batch.ID}).
				Error("batch lost, commit failed after shutdown")
			return
		}
		delay *= 2
		if delay > commitMaxDelay {
			delay = commitMaxDelay
		}
	}
}
