package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"deriflow/config"
	"deriflow/instrument"
	"deriflow/logger"
	"deriflow/models"
	"deriflow/ringbuf"
	"deriflow/strategy"
)

// OrderBook is the depth-limited order book handler. Every push frame is
// normalized into a fixed-width row of exactly depth levels per side,
// sentinel-filled with (-1,-1) where the book is shallower.
type OrderBook struct {
	depth       int
	group       string
	interval    string
	instruments []string

	registry *instrument.Registry
	buffer   *ringbuf.RingBatchBuffer
	strategy strategy.Strategy
	log      *logger.Log
}

// NewOrderBook creates the order book handler. Depth must be a positive
// constant: the unbounded book mode cannot be represented as fixed-width
// rows and is rejected here rather than half-supported.
func NewOrderBook(cfg *config.Config, reg *instrument.Registry, strat strategy.Strategy) (*OrderBook, error) {
	sub := cfg.Subscriptions
	if sub.Depth <= 0 {
		return nil, fmt.Errorf("order book depth %d: unbounded order books are not supported in fixed-depth mode", sub.Depth)
	}

	h := &OrderBook{
		depth:       sub.Depth,
		group:       sub.Group,
		interval:    sub.Interval,
		instruments: append(append([]string{}, sub.Instruments...), sub.ExtraInstruments...),
		registry:    reg,
		strategy:    strat,
		log:         logger.GetLogger(),
	}

	if cfg.Record.Enabled {
		buf, err := ringbuf.NewRingBatchBuffer(h.Table(), h.Columns(), cfg.Record.NumberOfSlots, cfg.Record.BatchSize, cfg.Record.HandoffBuffer)
		if err != nil {
			return nil, err
		}
		h.buffer = buf
	}
	return h, nil
}

func (h *OrderBook) Name() string  { return "orderbook" }
func (h *OrderBook) Private() bool { return false }

func (h *OrderBook) Table() string {
	return fmt.Sprintf("table_depth_%d", h.depth)
}

func (h *OrderBook) Columns() []string {
	cols := []string{"CHANGE_ID"}
	cols = append(cols, instrumentColumns...)
	cols = append(cols, "TIMESTAMP_VALUE")
	for i := 0; i < h.depth; i++ {
		cols = appendPair(cols, "BID", i)
	}
	for i := 0; i < h.depth; i++ {
		cols = appendPair(cols, "ASK", i)
	}
	return cols
}

func (h *OrderBook) SubscribeRequests() []models.Request {
	channels := make([]string, 0, len(h.instruments))
	for _, name := range h.instruments {
		channels = append(channels, models.BookChannel(name, h.group, h.depth, h.interval))
	}
	return []models.Request{models.SubscribeRequest(channels, false)}
}

func (h *OrderBook) Matches(channel string) bool {
	return strings.HasPrefix(channel, "book.")
}

func (h *OrderBook) Buffer() *ringbuf.RingBatchBuffer { return h.buffer }

// Handle decodes one book frame: bids sorted descending and right-aligned
// into the last depth slots, asks sorted ascending and left-aligned into
// the first depth slots, levels beyond depth dropped.
func (h *OrderBook) Handle(ctx context.Context, params *models.SubscriptionParams) error {
	var data models.BookData
	if err := json.Unmarshal(params.Data, &data); err != nil {
		return fmt.Errorf("decode book payload: %w", err)
	}
	if data.InstrumentName == "" {
		return fmt.Errorf("book payload on channel %s has no instrument_name", params.Channel)
	}

	inst, err := h.registry.Resolve(data.InstrumentName)
	if err != nil {
		return err
	}

	bids, err := parseLevels(data.Bids)
	if err != nil {
		return fmt.Errorf("book payload for %s: %w", data.InstrumentName, err)
	}
	asks, err := parseLevels(data.Asks)
	if err != nil {
		return fmt.Errorf("book payload for %s: %w", data.InstrumentName, err)
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	bidArr := alignRight(bids, h.depth)
	askArr := alignLeft(asks, h.depth)

	idx, strike, maturity, kind := inst.Fields()
	row := make([]float64, 0, 6+4*h.depth)
	// Leading placeholder column reserved for a future change id.
	row = append(row, 0, idx, strike, maturity, kind, float64(data.Timestamp))
	for _, lvl := range bidArr {
		row = append(row, lvl.Price, lvl.Amount)
	}
	for _, lvl := range askArr {
		row = append(row, lvl.Price, lvl.Amount)
	}

	if err := appendRecord(ctx, h.buffer, row); err != nil {
		return err
	}

	h.strategy.OnOrderBookUpdate(inst)
	return nil
}

// parseLevels converts wire [price, amount] pairs into levels.
func parseLevels(raw [][]float64) ([]models.BookLevel, error) {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("level %v is not a [price, amount] pair", pair)
		}
		levels = append(levels, models.BookLevel{Price: pair[0], Amount: pair[1]})
	}
	return levels, nil
}

// alignRight places up to depth levels into the tail of a fixed array,
// preserving order, sentinel-filling the head.
func alignRight(levels []models.BookLevel, depth int) []models.BookLevel {
	arr := make([]models.BookLevel, depth)
	for i := range arr {
		arr[i] = models.SentinelLevel
	}
	if len(levels) > depth {
		levels = levels[:depth]
	}
	offset := depth - len(levels)
	for i, lvl := range levels {
		arr[offset+i] = lvl
	}
	return arr
}

// alignLeft places up to depth levels into the head of a fixed array,
// preserving order, sentinel-filling the tail.
func alignLeft(levels []models.BookLevel, depth int) []models.BookLevel {
	arr := make([]models.BookLevel, depth)
	for i := range arr {
		arr[i] = models.SentinelLevel
	}
	if len(levels) > depth {
		levels = levels[:depth]
	}
	copy(arr, levels)
	return arr
}
