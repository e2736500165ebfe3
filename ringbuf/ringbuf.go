package ringbuf

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"deriflow/logger"
)

// Batch is one filled (or partially filled at shutdown) ring slot handed
// to the storage sink. Rows are copies; the slot is reused immediately.
type Batch struct {
	ID      string
	Table   string
	Columns []string
	Rows    [][]float64
}

// RingBatchBuffer amortizes storage writes by accumulating fixed-width
// rows into a ring of reusable batch slots. A slot is emitted on the
// bounded handoff channel when it reaches capacity; the row cursor resets
// before the slot cursor advances, so no row is ever written to two slots.
//
// Append and Flush are single-writer: exactly one goroutine (the session
// dispatch loop) may call them. The handoff send blocks when the consumer
// lags, which intentionally stalls the read loop rather than dropping a
// filled batch.
type RingBatchBuffer struct {
	table   string
	columns []string

	slots     [][][]float64
	rowPtr    int
	slotPtr   int
	batchSize int

	out chan Batch
	log *logger.Log
}

// NewRingBatchBuffer creates a buffer of numSlots slots holding batchSize
// rows each, all matching the declared column schema.
func NewRingBatchBuffer(table string, columns []string, numSlots, batchSize, handoffBuffer int) (*RingBatchBuffer, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("ring buffer for table %s: empty column schema", table)
	}
	if numSlots <= 0 || batchSize <= 0 {
		return nil, fmt.Errorf("ring buffer for table %s: slots and batch size must be positive", table)
	}
	if handoffBuffer < 0 {
		handoffBuffer = 0
	}

	slots := make([][][]float64, numSlots)
	for i := range slots {
		slots[i] = make([][]float64, 0, batchSize)
	}

	b := &RingBatchBuffer{
		table:     table,
		columns:   columns,
		slots:     slots,
		batchSize: batchSize,
		out:       make(chan Batch, handoffBuffer),
		log:       logger.GetLogger(),
	}

	b.log.WithComponent("ring_buffer").WithFields(logger.Fields{
		"table":      table,
		"slots":      numSlots,
		"batch_size": batchSize,
		"columns":    len(columns),
	}).Info("ring batch buffer created")

	return b, nil
}

// Table returns the destination table name the buffer records for.
func (b *RingBatchBuffer) Table() string { return b.table }

// Columns returns the declared schema.
func (b *RingBatchBuffer) Columns() []string { return b.columns }

// Batches is the bounded handoff channel consumed by the storage writer.
func (b *RingBatchBuffer) Batches() <-chan Batch { return b.out }

// Append validates the row against the declared schema and writes it into
// the current slot. When the slot reaches capacity it is emitted for
// flushing and the ring advances.
func (b *RingBatchBuffer) Append(ctx context.Context, row []float64) error {
	if len(row) != len(b.columns) {
		return fmt.Errorf("table %s: record has %d columns, schema declares %d", b.table, len(row), len(b.columns))
	}

	b.slots[b.slotPtr] = append(b.slots[b.slotPtr], row)
	b.rowPtr++
	logger.IncrementRowsBuffered(1)

	if b.rowPtr >= b.batchSize {
		if err := b.emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Flush emits the current partially filled slot. Used on graceful
// shutdown so buffered rows are not lost; an empty slot is a no-op.
func (b *RingBatchBuffer) Flush(ctx context.Context) error {
	if b.rowPtr == 0 {
		return nil
	}
	return b.emit(ctx)
}

// Close closes the handoff channel. Call only after the final Flush, once
// no further Append can occur.
func (b *RingBatchBuffer) Close() {
	close(b.out)
}

func (b *RingBatchBuffer) emit(ctx context.Context) error {
	slot := b.slots[b.slotPtr]
	rows := make([][]float64, len(slot))
	copy(rows, slot)

	batch := Batch{
		ID:      uuid.New().String(),
		Table:   b.table,
		Columns: b.columns,
		Rows:    rows,
	}

	// Reset the row cursor before advancing the slot cursor so a row can
	// never land in two slots.
	b.slots[b.slotPtr] = b.slots[b.slotPtr][:0]
	b.rowPtr = 0
	b.slotPtr = (b.slotPtr + 1) % len(b.slots)

	select {
	case b.out <- batch:
		logger.IncrementBatchesFlushed()
		b.log.WithComponent("ring_buffer").WithFields(logger.Fields{
			"table":    b.table,
			"batch_id": batch.ID,
			"rows":     len(rows),
		}).Debug("batch handed off for flushing")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
