package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deriflow/config"
	"deriflow/instrument"
	"deriflow/logger"
	"deriflow/models"
	"deriflow/ringbuf"
)

// Portfolio records per-currency account state pushes.
type Portfolio struct {
	currencies []string

	buffer *ringbuf.RingBatchBuffer
	log    *logger.Log
}

func NewPortfolio(cfg *config.Config) (*Portfolio, error) {
	h := &Portfolio{
		currencies: append([]string{}, cfg.Subscriptions.PortfolioCurrencies...),
		log:        logger.GetLogger(),
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

func (h *Portfolio) Name() string  { return "portfolio" }
func (h *Portfolio) Table() string { return "table_portfolio" }
func (h *Portfolio) Private() bool { return true }

func (h *Portfolio) Columns() []string {
	return []string{
		"CHANGE_ID",
		"TIMESTAMP_VALUE",
		"CURRENCY_INDEX",
		"EQUITY",
		"AVAILABLE_FUNDS",
		"BALANCE",
		"MARGIN_BALANCE",
		"TOTAL_PL",
	}
}

func (h *Portfolio) SubscribeRequests() []models.Request {
	channels := make([]string, 0, len(h.currencies))
	for _, ccy := range h.currencies {
		channels = append(channels, models.UserPortfolioChannel(ccy))
	}
	return []models.Request{models.SubscribeRequest(channels, true)}
}

func (h *Portfolio) Matches(channel string) bool {
	return strings.HasPrefix(channel, "user.portfolio.")
}

func (h *Portfolio) Buffer() *ringbuf.RingBatchBuffer { return h.buffer }

func (h *Portfolio) Handle(ctx context.Context, params *models.SubscriptionParams) error {
	var data models.PortfolioData
	if err := json.Unmarshal(params.Data, &data); err != nil {
		return fmt.Errorf("decode portfolio payload: %w", err)
	}
	if data.Currency == "" {
		return fmt.Errorf("portfolio payload on channel %s has no currency", params.Channel)
	}

	ccyIdx, ok := instrument.CurrencyIndex(data.Currency)
	if !ok {
		return fmt.Errorf("portfolio payload for unknown currency %q", data.Currency)
	}

	// The portfolio push carries no exchange timestamp.
	row := []float64{
		0,
		float64(time.Now().UnixMilli()),
		float64(ccyIdx),
		data.Equity,
		data.AvailableFunds,
		data.Balance,
		data.MarginBalance,
		data.TotalPL,
	}
	return appendRecord(ctx, h.buffer, row)
}
