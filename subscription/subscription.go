package subscription

import (
	"context"
	"fmt"

	"deriflow/models"
	"deriflow/ringbuf"
)

// Handler owns one feed's schema, subscription request and decode logic.
// Handle is invoked by the session dispatch loop for every push frame
// whose channel matches; decode failures are returned as errors and must
// never panic past the dispatch boundary.
type Handler interface {
	// Name identifies the handler in logs.
	Name() string
	// Table names the destination table or file for recorded data.
	Table() string
	// Columns declares the fixed on-disk schema, in order.
	Columns() []string
	// Private reports whether the subscription requires authentication.
	Private() bool
	// SubscribeRequests builds the outbound requests issued once per
	// (re)connect after the handshake.
	SubscribeRequests() []models.Request
	// Matches reports whether a push frame's channel belongs to this
	// handler.
	Matches(channel string) bool
	// Handle decodes one push payload, records it and fires callbacks.
	Handle(ctx context.Context, params *models.SubscriptionParams) error
	// Buffer exposes the handler's ring buffer, nil when recording is
	// disabled for the feed.
	Buffer() *ringbuf.RingBatchBuffer
}

// instrumentColumns are the attribute columns shared by every schema that
// references an instrument.
var instrumentColumns = []string{
	"INSTRUMENT_INDEX",
	"INSTRUMENT_STRIKE",
	"INSTRUMENT_MATURITY",
	"INSTRUMENT_TYPE",
}

func appendPair(cols []string, side string, level int) []string {
	cols = append(cols, fmt.Sprintf("%s_%d_PRICE", side, level))
	cols = append(cols, fmt.Sprintf("%s_%d_AMOUNT", side, level))
	return cols
}

// appendRecord writes a row into the handler's buffer when recording is
// enabled.
func appendRecord(ctx context.Context, buf *ringbuf.RingBatchBuffer, row []float64) error {
	if buf == nil {
		return nil
	}
	return buf.Append(ctx, row)
}
