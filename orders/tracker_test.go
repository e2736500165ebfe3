package orders

import (
	"strconv"
	"sync"
	"testing"

	"deriflow/models"
)

type recordingStrategy struct {
	mu            sync.Mutex
	orderUpdates  []models.OrderRecord
	orderCreated  []models.OrderRecord
	insufficient  []models.RPCError
	priceRejected []models.RPCError
}

func (r *recordingStrategy) OnOrderBookUpdate(models.Instrument)         {}
func (r *recordingStrategy) OnTradeUpdate(models.Instrument)             {}
func (r *recordingStrategy) OnPositionMismatch(string, float64, float64) {}

func (r *recordingStrategy) OnOrderUpdate(order models.OrderRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orderUpdates = append(r.orderUpdates, order)
}

func (r *recordingStrategy) OnOrderCreation(order models.OrderRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orderCreated = append(r.orderCreated, order)
}

func (r *recordingStrategy) OnInsufficientFunds(err models.RPCError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insufficient = append(r.insufficient, err)
}

func (r *recordingStrategy) OnPriceRejected(err models.RPCError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priceRejected = append(r.priceRejected, err)
}

func openOrder(tag string) models.OrderData {
	return models.OrderData{
		Label:               tag,
		OrderID:             "BTC-1000",
		InstrumentName:      "BTC-PERPETUAL",
		OrderState:          "open",
		OrderType:           "limit",
		Direction:           "buy",
		Price:               50000,
		Amount:              10,
		CreationTimestamp:   1,
		LastUpdateTimestamp: 1,
	}
}

func TestNextTagMonotonic(t *testing.T) {
	tr := NewTracker(&recordingStrategy{}, 0)
	prev := int64(0)
	for i := 0; i < 10; i++ {
		tag := tr.NextTag("BTC-PERPETUAL")
		n, err := strconv.ParseInt(tag, 10, 64)
		if err != nil {
			t.Fatalf("tag %q is not numeric: %v", tag, err)
		}
		if n <= prev {
			t.Fatalf("tag %d not above previous %d", n, prev)
		}
		prev = n
	}
}

func TestNextTagContinuesFromLastIssued(t *testing.T) {
	tr := NewTracker(&recordingStrategy{}, 0)

	first := tr.NextTag("BTC-PERPETUAL")

	// a non-numeric exchange label between allocations must not disturb
	// the numbering
	data := openOrder("web-42")
	if err := tr.OnCallback(data); err != nil {
		t.Fatalf("OnCallback failed: %v", err)
	}

	second := tr.NextTag("BTC-PERPETUAL")
	a, _ := strconv.ParseInt(first, 10, 64)
	b, err := strconv.ParseInt(second, 10, 64)
	if err != nil {
		t.Fatalf("tag %q is not numeric: %v", second, err)
	}
	if b != a+1 {
		t.Errorf("tag after %d = %d, want %d", a, b, a+1)
	}
}

func TestCallbackForReservedTag(t *testing.T) {
	strat := &recordingStrategy{}
	tr := NewTracker(strat, 0)

	tag := tr.NextTag("BTC-PERPETUAL")
	data := openOrder(tag)
	data.InstrumentName = ""
	if err := tr.OnCallback(data); err != nil {
		t.Fatalf("OnCallback failed: %v", err)
	}

	order, ok := tr.Lookup(tag)
	if !ok {
		t.Fatal("order not tracked after callback")
	}
	// the reservation carries the instrument when the callback omits it
	if order.Instrument != "BTC-PERPETUAL" {
		t.Errorf("instrument = %q", order.Instrument)
	}
	if len(strat.orderCreated) != 1 {
		t.Fatalf("OnOrderCreation fired %d times, want 1", len(strat.orderCreated))
	}
	if len(strat.orderUpdates) != 0 {
		t.Fatalf("OnOrderUpdate fired %d times, want 0", len(strat.orderUpdates))
	}
}

func TestCallbackUpdatesKnownOrder(t *testing.T) {
	strat := &recordingStrategy{}
	tr := NewTracker(strat, 0)

	tag := tr.NextTag("BTC-PERPETUAL")
	if err := tr.OnCallback(openOrder(tag)); err != nil {
		t.Fatalf("OnCallback failed: %v", err)
	}

	update := openOrder(tag)
	update.OrderState = "filled"
	update.FilledAmount = 10
	update.AveragePrice = 50010
	update.LastUpdateTimestamp = 2
	if err := tr.OnCallback(update); err != nil {
		t.Fatalf("OnCallback failed: %v", err)
	}

	order, ok := tr.Lookup(tag)
	if !ok {
		t.Fatal("order lost after update")
	}
	if order.OrderState != models.OrderFilled {
		t.Errorf("state = %v, want filled", order.OrderState)
	}
	if order.ExecutedPrice != 50010 || order.FilledAmount != 10 {
		t.Errorf("fill fields not updated: %+v", order)
	}

	if len(strat.orderCreated) != 1 || len(strat.orderUpdates) != 1 {
		t.Fatalf("callbacks fired %d/%d times, want 1/1",
			len(strat.orderCreated), len(strat.orderUpdates))
	}
	if tr.Position("BTC-PERPETUAL") != 10 {
		t.Errorf("position = %v, want 10", tr.Position("BTC-PERPETUAL"))
	}
}

func TestCallbackForUnsolicitedOrder(t *testing.T) {
	strat := &recordingStrategy{}
	tr := NewTracker(strat, 0)

	// first sight already cancelled; the record is inserted and moved
	data := openOrder("web-42")
	data.OrderState = "cancelled"
	if err := tr.OnCallback(data); err != nil {
		t.Fatalf("OnCallback failed: %v", err)
	}

	order, ok := tr.Lookup("web-42")
	if !ok {
		t.Fatal("unsolicited order not tracked")
	}
	if order.OrderState != models.OrderCancelled {
		t.Errorf("state = %v, want cancelled", order.OrderState)
	}
	if len(strat.orderCreated) != 1 {
		t.Fatalf("OnOrderCreation fired %d times, want 1", len(strat.orderCreated))
	}
}

func TestSellFillsReducePosition(t *testing.T) {
	tr := NewTracker(&recordingStrategy{}, 0)

	buy := openOrder(tr.NextTag("BTC-PERPETUAL"))
	buy.OrderState = "filled"
	buy.FilledAmount = 30
	if err := tr.OnCallback(buy); err != nil {
		t.Fatalf("OnCallback failed: %v", err)
	}

	sell := openOrder(tr.NextTag("BTC-PERPETUAL"))
	sell.Direction = "sell"
	sell.OrderState = "filled"
	sell.FilledAmount = 10
	if err := tr.OnCallback(sell); err != nil {
		t.Fatalf("OnCallback failed: %v", err)
	}

	if got := tr.Position("BTC-PERPETUAL"); got != 20 {
		t.Errorf("position = %v, want 20", got)
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	tr := NewTracker(&recordingStrategy{}, 0)
	data := openOrder("1")
	data.OrderState = "archived"
	if err := tr.OnCallback(data); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestRequestErrorRouting(t *testing.T) {
	strat := &recordingStrategy{}
	tr := NewTracker(strat, 0)

	tr.OnRequestError(models.RPCError{Code: 10009, Message: "not_enough_funds"})
	tr.OnRequestError(models.RPCError{Code: 11050, Message: "price_too_high"})
	tr.OnRequestError(models.RPCError{Code: 11051, Message: "price_too_low"})
	tr.OnRequestError(models.RPCError{Code: 13009, Message: "unsupported"})

	if len(strat.insufficient) != 1 {
		t.Errorf("OnInsufficientFunds fired %d times, want 1", len(strat.insufficient))
	}
	if len(strat.priceRejected) != 2 {
		t.Errorf("OnPriceRejected fired %d times, want 2", len(strat.priceRejected))
	}
}

func TestTagRingEvictsOldest(t *testing.T) {
	ring := newTagRing(3)
	for _, tag := range []string{"1", "2", "3", "4"} {
		ring.record(tag)
	}
	if ring.contains("1") {
		t.Error("oldest tag not evicted")
	}
	if !ring.contains("4") || !ring.contains("2") {
		t.Error("recent tags missing")
	}
	if ring.last() != "4" {
		t.Errorf("last() = %q, want 4", ring.last())
	}
}
