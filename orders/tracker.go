package orders

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"deriflow/logger"
	"deriflow/models"
	"deriflow/strategy"
)

// Exchange error code routed around the state machine.
const codeNotEnoughFunds = 10009

// Tracker correlates locally submitted orders with asynchronous exchange
// callbacks by tag. Orders live in one per-state bucket at a time and are
// moved between buckets on state transitions; they are never deleted.
//
// Callbacks arrive on the session dispatch loop while NextTag and
// Position are called from order placement and the validation poller, so
// all state sits behind one mutex. Strategy callbacks fire with the lock
// held and must not re-enter the tracker.
type Tracker struct {
	mu sync.Mutex

	open        map[string]*models.OrderRecord
	filled      map[string]*models.OrderRecord
	rejected    map[string]*models.OrderRecord
	cancelled   map[string]*models.OrderRecord
	untriggered map[string]*models.OrderRecord

	// pending holds tags reserved by a local submission that has not yet
	// been acknowledged; the value is the instrument it was placed on.
	pending map[string]string

	usedTags *tagRing

	// positions accumulates signed fills per instrument for the
	// background validation poll.
	positions map[string]float64

	strategy strategy.Strategy
	log      *logger.Log
}

// NewTracker creates a Tracker firing callbacks on the given strategy.
func NewTracker(s strategy.Strategy, tagCapacity int) *Tracker {
	return &Tracker{
		open:        make(map[string]*models.OrderRecord),
		filled:      make(map[string]*models.OrderRecord),
		rejected:    make(map[string]*models.OrderRecord),
		cancelled:   make(map[string]*models.OrderRecord),
		untriggered: make(map[string]*models.OrderRecord),
		pending:     make(map[string]string),
		usedTags:    newTagRing(tagCapacity),
		positions:   make(map[string]float64),
		strategy:    s,
		log:         logger.GetLogger(),
	}
}

// NextTag allocates the next monotonically increasing order tag by
// incrementing the most recently issued one, and reserves it for the
// instrument so a later callback can be correlated.
func (t *Tracker) NextTag(instrument string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := int64(1)
	if last := t.usedTags.last(); last != "" {
		if n, err := strconv.ParseInt(last, 10, 64); err == nil {
			next = n + 1
		}
	}
	tag := strconv.FormatInt(next, 10)
	t.usedTags.record(tag)
	t.pending[tag] = instrument
	return tag
}

// OnCallback routes one decoded own-order payload. A known tag updates
// the tracked order and may move it between state buckets; an unknown tag
// inserts the callback verbatim as a new open order.
func (t *Tracker) OnCallback(data models.OrderData) error {
	state, err := models.ParseOrderState(data.OrderState)
	if err != nil {
		return fmt.Errorf("order callback for tag %q: %w", data.Label, err)
	}
	orderType, err := models.ParseOrderType(data.OrderType)
	if err != nil {
		return fmt.Errorf("order callback for tag %q: %w", data.Label, err)
	}

	direction := 1
	if data.Direction == "sell" {
		direction = -1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if order, bucket := t.find(data.Label); order != nil {
		prevFilled := order.FilledAmount
		prevState := order.OrderState

		order.OrderID = data.OrderID
		order.LastUpdateTime = data.LastUpdateTimestamp
		order.Price = data.Price
		order.ExecutedPrice = data.AveragePrice
		order.TotalCommission = data.Commission
		order.Direction = direction
		order.Amount = data.Amount
		order.FilledAmount = data.FilledAmount
		order.OrderType = orderType

		if state != prevState {
			if err := t.move(data.Label, bucket, state); err != nil {
				return err
			}
			order.OrderState = state
		}
		t.applyFill(order.Instrument, direction, data.FilledAmount-prevFilled)
		t.strategy.OnOrderUpdate(*order)
		return nil
	}

	// Unknown tag: construct the record from the callback verbatim and
	// insert it as open. Covers both a pending local submission being
	// acknowledged and an unsolicited exchange order.
	instrument := data.InstrumentName
	if reserved, ok := t.pending[data.Label]; ok {
		if instrument == "" {
			instrument = reserved
		}
		delete(t.pending, data.Label)
	} else if t.usedTags.contains(data.Label) {
		// A locally issued tag with no reservation and no record lost
		// its order somewhere; re-insert it from the callback below.
		t.log.WithComponent("order_tracker").WithFields(logger.Fields{
			"tag": data.Label,
		}).Warn("callback for a recently issued tag with no tracked order")
	}

	order := &models.OrderRecord{
		Tag:             data.Label,
		OrderID:         data.OrderID,
		CreationTime:    data.CreationTimestamp,
		LastUpdateTime:  data.LastUpdateTimestamp,
		Price:           data.Price,
		ExecutedPrice:   data.AveragePrice,
		TotalCommission: data.Commission,
		Direction:       direction,
		Amount:          data.Amount,
		FilledAmount:    data.FilledAmount,
		Instrument:      instrument,
		OrderType:       orderType,
		OrderState:      models.OrderOpen,
	}
	t.open[data.Label] = order
	logger.IncrementOrdersTracked()

	t.applyFill(instrument, direction, data.FilledAmount)

	// The exchange may report a non-open state on first sight; move the
	// fresh record straight to its bucket.
	if state != models.OrderOpen {
		if err := t.move(data.Label, t.open, state); err != nil {
			return err
		}
		order.OrderState = state
	}
	t.strategy.OnOrderCreation(*order)
	return nil
}

// OnRequestError routes order placement errors that reference no tracked
// order, such as insufficient funds or price rejections.
func (t *Tracker) OnRequestError(rpcErr models.RPCError) {
	switch {
	case rpcErr.Code == codeNotEnoughFunds || rpcErr.Message == "not_enough_funds":
		t.strategy.OnInsufficientFunds(rpcErr)
	case strings.HasPrefix(rpcErr.Message, "price_too_"):
		t.strategy.OnPriceRejected(rpcErr)
	default:
		t.log.WithComponent("order_tracker").WithFields(logger.Fields{
			"code":    rpcErr.Code,
			"message": rpcErr.Message,
		}).Warn("unhandled exchange error callback")
	}
}

// Lookup returns the tracked order for a tag, if any.
func (t *Tracker) Lookup(tag string) (models.OrderRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if order, _ := t.find(tag); order != nil {
		return *order, true
	}
	return models.OrderRecord{}, false
}

// Position returns the accumulated signed fills for an instrument.
func (t *Tracker) Position(instrument string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positions[instrument]
}

// find locates a tag in whichever state bucket currently owns it.
func (t *Tracker) find(tag string) (*models.OrderRecord, map[string]*models.OrderRecord) {
	for _, bucket := range t.buckets() {
		if order, ok := bucket[tag]; ok {
			return order, bucket
		}
	}
	return nil, nil
}

// move relocates a tag from its current bucket to the bucket of the new
// state. A tag that is tracked but cannot be found in its bucket points
// at a record present in two buckets at once, which the single-writer
// discipline makes impossible; that is a fatal consistency fault.
func (t *Tracker) move(tag string, from map[string]*models.OrderRecord, to models.OrderState) error {
	order, ok := from[tag]
	if !ok {
		return fmt.Errorf("consistency fault: order tag %q tracked but missing from its state bucket", tag)
	}
	delete(from, tag)
	t.bucketFor(to)[tag] = order
	return nil
}

func (t *Tracker) bucketFor(state models.OrderState) map[string]*models.OrderRecord {
	switch state {
	case models.OrderFilled:
		return t.filled
	case models.OrderRejected:
		return t.rejected
	case models.OrderCancelled:
		return t.cancelled
	case models.OrderUntriggered:
		return t.untriggered
	default:
		return t.open
	}
}

func (t *Tracker) buckets() []map[string]*models.OrderRecord {
	return []map[string]*models.OrderRecord{t.open, t.filled, t.rejected, t.cancelled, t.untriggered}
}

func (t *Tracker) applyFill(instrument string, direction int, delta float64) {
	if instrument == "" || delta == 0 {
		return
	}
	t.positions[instrument] += float64(direction) * delta
}
