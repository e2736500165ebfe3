package subscription

import (
	"context"
	"encoding/json"
	"testing"

	"deriflow/models"
	"deriflow/orders"
)

func ownOrderParams(t *testing.T, data models.OrderData) *models.SubscriptionParams {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal order data: %v", err)
	}
	return &models.SubscriptionParams{
		Channel: "user.orders.BTC-PERPETUAL.raw",
		Data:    payload,
	}
}

func TestOwnOrdersSchemaWidth(t *testing.T) {
	tracker := orders.NewTracker(&recordingStrategy{}, 0)
	h, err := NewOwnOrders(testConfig(t, 3), testRegistry(t), tracker)
	if err != nil {
		t.Fatalf("NewOwnOrders failed: %v", err)
	}
	if len(h.Columns()) != 16 {
		t.Fatalf("schema has %d columns, want 16", len(h.Columns()))
	}
	if !h.Private() {
		t.Error("own orders subscription must be private")
	}
}

func TestOwnOrdersFeedsTrackerBeforeRecording(t *testing.T) {
	strat := &recordingStrategy{}
	tracker := orders.NewTracker(strat, 0)
	h, err := NewOwnOrders(testConfig(t, 3), testRegistry(t), tracker)
	if err != nil {
		t.Fatalf("NewOwnOrders failed: %v", err)
	}

	params := ownOrderParams(t, models.OrderData{
		Label:               "7",
		OrderID:             "ETH-349249",
		InstrumentName:      "BTC-PERPETUAL",
		OrderState:          "open",
		OrderType:           "limit",
		Direction:           "buy",
		Price:               50000,
		Amount:              10,
		CreationTimestamp:   100,
		LastUpdateTimestamp: 100,
	})
	if err := h.Handle(context.Background(), params); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if _, ok := tracker.Lookup("7"); !ok {
		t.Fatal("tracker did not record the order")
	}
	if len(strat.orderCreated) != 1 {
		t.Fatalf("OnOrderCreation fired %d times, want 1", len(strat.orderCreated))
	}

	row := (<-h.Buffer().Batches()).Rows[0]
	if len(row) != 16 {
		t.Fatalf("row has %d columns, want 16", len(row))
	}
	if row[1] != 100 || row[2] != 100 {
		t.Errorf("timestamp columns = %v %v, want 100 100", row[1], row[2])
	}
	if row[9] != 349249 {
		t.Errorf("order id column = %v, want 349249", row[9])
	}
	if row[13] != 50000 || row[14] != 1 || row[15] != 10 {
		t.Errorf("unexpected price/direction/amount: %v", row[13:])
	}
}

func TestOwnOrdersRejectsUnknownState(t *testing.T) {
	tracker := orders.NewTracker(&recordingStrategy{}, 0)
	h, err := NewOwnOrders(testConfig(t, 3), testRegistry(t), tracker)
	if err != nil {
		t.Fatalf("NewOwnOrders failed: %v", err)
	}
	params := ownOrderParams(t, models.OrderData{
		Label:          "9",
		InstrumentName: "BTC-PERPETUAL",
		OrderState:     "archived",
		OrderType:      "limit",
		Direction:      "buy",
	})
	if err := h.Handle(context.Background(), params); err == nil {
		t.Fatal("expected error for unknown order state")
	}
}
