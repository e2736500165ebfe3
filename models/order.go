package models

import "fmt"

// OrderState mirrors the exchange order lifecycle states.
type OrderState int

const (
	OrderOpen OrderState = iota
	OrderFilled
	OrderRejected
	OrderCancelled
	OrderUntriggered
)

func (s OrderState) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderFilled:
		return "filled"
	case OrderRejected:
		return "rejected"
	case OrderCancelled:
		return "cancelled"
	case OrderUntriggered:
		return "untriggered"
	default:
		return "unknown"
	}
}

// ParseOrderState converts the exchange state naming to OrderState.
func ParseOrderState(s string) (OrderState, error) {
	switch s {
	case "open":
		return OrderOpen, nil
	case "filled":
		return OrderFilled, nil
	case "rejected":
		return OrderRejected, nil
	case "cancelled":
		return OrderCancelled, nil
	case "untriggered":
		return OrderUntriggered, nil
	default:
		return 0, fmt.Errorf("unknown order state %q", s)
	}
}

// OrderType mirrors the exchange order type naming.
type OrderType int

const (
	OrderLimit OrderType = iota
	OrderStopLimit
	OrderTakeLimit
	OrderMarket
	OrderStopMarket
	OrderTakeMarket
	OrderMarketLimit
	OrderTrailingStop
)

func (t OrderType) String() string {
	switch t {
	case OrderLimit:
		return "limit"
	case OrderStopLimit:
		return "stop_limit"
	case OrderTakeLimit:
		return "take_limit"
	case OrderMarket:
		return "market"
	case OrderStopMarket:
		return "stop_market"
	case OrderTakeMarket:
		return "take_market"
	case OrderMarketLimit:
		return "market_limit"
	case OrderTrailingStop:
		return "trailing_stop"
	default:
		return "unknown"
	}
}

// ParseOrderType converts the exchange type naming to OrderType.
func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "limit":
		return OrderLimit, nil
	case "stop_limit":
		return OrderStopLimit, nil
	case "take_limit":
		return OrderTakeLimit, nil
	case "market":
		return OrderMarket, nil
	case "stop_market":
		return OrderStopMarket, nil
	case "take_market":
		return OrderTakeMarket, nil
	case "market_limit":
		return OrderMarketLimit, nil
	case "trailing_stop":
		return OrderTrailingStop, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

// OrderRecord is the tracked state of one locally submitted or
// exchange-reported order, correlated by Tag.
type OrderRecord struct {
	Tag             string
	OrderID         string
	CreationTime    int64
	LastUpdateTime  int64
	Price           float64
	ExecutedPrice   float64
	TotalCommission float64
	Direction       int // +1 buy, -1 sell
	Amount          float64
	FilledAmount    float64
	Instrument      string
	OrderType       OrderType
	OrderState      OrderState
}
