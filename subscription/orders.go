package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deriflow/config"
	"deriflow/instrument"
	"deriflow/logger"
	"deriflow/models"
	"deriflow/orders"
	"deriflow/ringbuf"
)

// OwnOrders records the account's own order updates and feeds every update
// through the lifecycle tracker before anything is persisted.
type OwnOrders struct {
	instruments []string

	registry *instrument.Registry
	tracker  *orders.Tracker
	buffer   *ringbuf.RingBatchBuffer
	log      *logger.Log
}

func NewOwnOrders(cfg *config.Config, reg *instrument.Registry, tracker *orders.Tracker) (*OwnOrders, error) {
	sub := cfg.Subscriptions
	h := &OwnOrders{
		instruments: append(append([]string{}, sub.Instruments...), sub.ExtraInstruments...),
		registry:    reg,
		tracker:     tracker,
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

func (h *OwnOrders) Name() string  { return "own_orders" }
func (h *OwnOrders) Table() string { return "table_own_orders" }
func (h *OwnOrders) Private() bool { return true }

func (h *OwnOrders) Columns() []string {
	cols := []string{"CHANGE_ID", "CREATION_TIMESTAMP", "LAST_UPDATE_TIMESTAMP"}
	cols = append(cols, instrumentColumns...)
	cols = append(cols,
		"ORDER_TYPE",
		"ORDER_STATE",
		"ORDER_ID",
		"FILLED_AMOUNT",
		"COMMISSION",
		"AVERAGE_PRICE",
		"PRICE",
		"DIRECTION",
		"AMOUNT",
	)
	return cols
}

func (h *OwnOrders) SubscribeRequests() []models.Request {
	channels := make([]string, 0, len(h.instruments))
	for _, name := range h.instruments {
		channels = append(channels, models.UserOrdersChannel(name))
	}
	return []models.Request{models.SubscribeRequest(channels, true)}
}

func (h *OwnOrders) Matches(channel string) bool {
	return strings.HasPrefix(channel, "user.orders.")
}

func (h *OwnOrders) Buffer() *ringbuf.RingBatchBuffer { return h.buffer }

// Handle feeds the update into the lifecycle tracker first so strategy
// callbacks observe the transition even when recording is disabled, then
// assembles the persisted row.
func (h *OwnOrders) Handle(ctx context.Context, params *models.SubscriptionParams) error {
	var data models.OrderData
	if err := json.Unmarshal(params.Data, &data); err != nil {
		return fmt.Errorf("decode order payload: %w", err)
	}
	if data.InstrumentName == "" {
		return fmt.Errorf("order payload on channel %s has no instrument_name", params.Channel)
	}

	if err := h.tracker.OnCallback(data); err != nil {
		return err
	}

	inst, err := h.registry.Resolve(data.InstrumentName)
	if err != nil {
		return err
	}
	state, err := models.ParseOrderState(data.OrderState)
	if err != nil {
		return err
	}
	orderType, err := models.ParseOrderType(data.OrderType)
	if err != nil {
		return err
	}
	dir, err := directionValue(data.Direction)
	if err != nil {
		return fmt.Errorf("order %s: %w", data.OrderID, err)
	}

	idx, strike, maturity, kind := inst.Fields()
	row := []float64{
		0,
		float64(data.CreationTimestamp),
		float64(data.LastUpdateTimestamp),
		idx, strike, maturity, kind,
		float64(orderType),
		float64(state),
		numericTail(data.OrderID),
		data.FilledAmount,
		data.Commission,
		data.AveragePrice,
		data.Price,
		dir,
		data.Amount,
	}
	return appendRecord(ctx, h.buffer, row)
}
