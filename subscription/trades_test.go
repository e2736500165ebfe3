package subscription

import (
	"context"
	"encoding/json"
	"testing"

	"deriflow/models"
)

func TestTradesHandlesArrayPayload(t *testing.T) {
	strat := &recordingStrategy{}
	h, err := NewTrades(testConfig(t, 3), testRegistry(t), strat)
	if err != nil {
		t.Fatalf("NewTrades failed: %v", err)
	}

	payload, err := json.Marshal([]models.TradeData{
		{InstrumentName: "BTC-PERPETUAL", TradeID: "BTC-100", Timestamp: 10, Price: 50000, Amount: 10, Direction: "buy"},
		{InstrumentName: "BTC-PERPETUAL", TradeID: "BTC-101", Timestamp: 11, Price: 49990, Amount: 20, Direction: "sell"},
	})
	if err != nil {
		t.Fatalf("marshal trades: %v", err)
	}
	params := &models.SubscriptionParams{Channel: "trades.BTC-PERPETUAL.100ms", Data: payload}
	if err := h.Handle(context.Background(), params); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	first := (<-h.Buffer().Batches()).Rows[0]
	if first[6] != 100 {
		t.Errorf("trade id column = %v, want 100", first[6])
	}
	if first[7] != 50000 || first[8] != 1 || first[9] != 10 {
		t.Errorf("unexpected trade row tail: %v", first[7:])
	}
	second := (<-h.Buffer().Batches()).Rows[0]
	if second[8] != -1 {
		t.Errorf("sell direction column = %v, want -1", second[8])
	}

	if len(strat.tradeUpdates) != 2 {
		t.Errorf("OnTradeUpdate fired %d times, want 2", len(strat.tradeUpdates))
	}
}

func TestTradesRejectsUnknownDirection(t *testing.T) {
	h, err := NewTrades(testConfig(t, 3), testRegistry(t), &recordingStrategy{})
	if err != nil {
		t.Fatalf("NewTrades failed: %v", err)
	}
	params := &models.SubscriptionParams{
		Channel: "trades.BTC-PERPETUAL.100ms",
		Data:    json.RawMessage(`[{"instrument_name":"BTC-PERPETUAL","trade_id":"BTC-1","direction":"hold"}]`),
	}
	if err := h.Handle(context.Background(), params); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestNumericTail(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"ETH-349249", 349249},
		{"123", 123},
		{"BTC-USDC-42", 42},
		{"no-digits", -1},
		{"", -1},
	}
	for _, c := range cases {
		if got := numericTail(c.in); got != c.want {
			t.Errorf("numericTail(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
