package models

// InstrumentKind classifies an instrument parsed from its exchange name.
type InstrumentKind int

const (
	KindPerpetual InstrumentKind = iota
	KindFuture
	KindCallOption
	KindPutOption
	KindFutureCombo
	KindOptionCombo
	KindUnknown InstrumentKind = -1
)

func (k InstrumentKind) String() string {
	switch k {
	case KindPerpetual:
		return "perpetual"
	case KindFuture:
		return "future"
	case KindCallOption:
		return "call_option"
	case KindPutOption:
		return "put_option"
	case KindFutureCombo:
		return "future_combo"
	case KindOptionCombo:
		return "option_combo"
	default:
		return "unknown"
	}
}

// Instrument holds the identity and attributes derived once from an
// exchange instrument name. Immutable after creation.
type Instrument struct {
	Name            string
	ID              int64
	UnderlyingIndex int
	Strike          float64 // -1 when not applicable
	Maturity        int64   // unix milliseconds, -1 when not applicable
	Kind            InstrumentKind
}

// Fields returns the attribute columns shared by all record schemas:
// underlying index, strike, maturity and kind.
func (i Instrument) Fields() (float64, float64, float64, float64) {
	return float64(i.UnderlyingIndex), i.Strike, float64(i.Maturity), float64(i.Kind)
}

// BookLevel is a single price level of an order book side.
type BookLevel struct {
	Price  float64
	Amount float64
}

// SentinelLevel marks an absent level in a fixed-depth book array.
var SentinelLevel = BookLevel{Price: -1, Amount: -1}
