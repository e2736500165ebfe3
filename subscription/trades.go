package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"deriflow/config"
	"deriflow/instrument"
	"deriflow/logger"
	"deriflow/models"
	"deriflow/ringbuf"
	"deriflow/strategy"
)

// Trades records every public trade on the configured instruments. One
// notification may carry several trades; each becomes its own record.
type Trades struct {
	interval    string
	instruments []string

	registry *instrument.Registry
	buffer   *ringbuf.RingBatchBuffer
	strategy strategy.Strategy
	log      *logger.Log
}

func NewTrades(cfg *config.Config, reg *instrument.Registry, strat strategy.Strategy) (*Trades, error) {
	sub := cfg.Subscriptions
	h := &Trades{
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

func (h *Trades) Name() string  { return "trades" }
func (h *Trades) Table() string { return "table_trades" }
func (h *Trades) Private() bool { return false }

func (h *Trades) Columns() []string {
	cols := []string{"CHANGE_ID"}
	cols = append(cols, instrumentColumns...)
	cols = append(cols, "TIMESTAMP_VALUE", "TRADE_ID", "PRICE", "DIRECTION", "AMOUNT")
	return cols
}

func (h *Trades) SubscribeRequests() []models.Request {
	channels := make([]string, 0, len(h.instruments))
	for _, name := range h.instruments {
		channels = append(channels, models.TradesChannel(name, h.interval))
	}
	return []models.Request{models.SubscribeRequest(channels, false)}
}

func (h *Trades) Matches(channel string) bool {
	return strings.HasPrefix(channel, "trades.")
}

func (h *Trades) Buffer() *ringbuf.RingBatchBuffer { return h.buffer }

func (h *Trades) Handle(ctx context.Context, params *models.SubscriptionParams) error {
	var trades []models.TradeData
	if err := json.Unmarshal(params.Data, &trades); err != nil {
		return fmt.Errorf("decode trades payload: %w", err)
	}

	for _, trade := range trades {
		if trade.InstrumentName == "" {
			return fmt.Errorf("trade payload on channel %s has no instrument_name", params.Channel)
		}
		inst, err := h.registry.Resolve(trade.InstrumentName)
		if err != nil {
			return err
		}
		dir, err := directionValue(trade.Direction)
		if err != nil {
			return fmt.Errorf("trade %s: %w", trade.TradeID, err)
		}

		idx, strike, maturity, kind := inst.Fields()
		row := []float64{
			0, idx, strike, maturity, kind,
			float64(trade.Timestamp),
			numericTail(trade.TradeID),
			trade.Price,
			dir,
			trade.Amount,
		}
		if err := appendRecord(ctx, h.buffer, row); err != nil {
			return err
		}
		h.strategy.OnTradeUpdate(inst)
	}
	return nil
}

// directionValue maps the wire direction strings onto signed units.
func directionValue(direction string) (float64, error) {
	switch direction {
	case "buy":
		return 1, nil
	case "sell":
		return -1, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", direction)
	}
}

// numericTail extracts the numeric suffix of exchange identifiers such as
// "ETH-34066". Identifiers with no numeric tail encode as -1.
func numericTail(id string) float64 {
	if i := strings.LastIndex(id, "-"); i >= 0 {
		id = id[i+1:]
	}
	n, err := strconv.ParseFloat(id, 64)
	if err != nil {
		return -1
	}
	return n
}
