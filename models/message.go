package models

import "encoding/json"

// Request is an outbound JSON-RPC envelope sent to the exchange.
type Request struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      int64                  `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response is an inbound JSON-RPC envelope. Push notifications carry
// Method ("heartbeat", "subscription") and Params; replies to requests
// carry ID and Result or Error.
type Response struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      int64               `json:"id"`
	Method  string              `json:"method"`
	Params  *SubscriptionParams `json:"params,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *RPCError           `json:"error,omitempty"`
}

// SubscriptionParams is the payload of a push notification. For
// "subscription" frames Channel identifies the feed and Data carries the
// feed-specific body. For "heartbeat" frames Type is "test_request".
type SubscriptionParams struct {
	Channel string          `json:"channel,omitempty"`
	Type    string          `json:"type,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RPCError is the error object of a failed request.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BookData is the payload of a depth-limited order book notification.
type BookData struct {
	InstrumentName string      `json:"instrument_name"`
	ChangeID       int64       `json:"change_id"`
	Timestamp      int64       `json:"timestamp"`
	Bids           [][]float64 `json:"bids"`
	Asks           [][]float64 `json:"asks"`
}

// TradeData is a single trade inside a trades notification payload.
type TradeData struct {
	InstrumentName string  `json:"instrument_name"`
	TradeID        string  `json:"trade_id"`
	TradeSeq       int64   `json:"trade_seq"`
	Timestamp      int64   `json:"timestamp"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
	Direction      string  `json:"direction"`
}

// OrderData is the payload of a user order notification or the "order"
// part of a place-order reply.
type OrderData struct {
	Label               string  `json:"label"`
	OrderID             string  `json:"order_id"`
	InstrumentName      string  `json:"instrument_name"`
	OrderState          string  `json:"order_state"`
	OrderType           string  `json:"order_type"`
	Direction           string  `json:"direction"`
	Price               float64 `json:"price"`
	AveragePrice        float64 `json:"average_price"`
	Commission          float64 `json:"commission"`
	Amount              float64 `json:"amount"`
	FilledAmount        float64 `json:"filled_amount"`
	CreationTimestamp   int64   `json:"creation_timestamp"`
	LastUpdateTimestamp int64   `json:"last_update_timestamp"`
}

// PortfolioData is the payload of a user portfolio notification.
type PortfolioData struct {
	Currency       string  `json:"currency"`
	Equity         float64 `json:"equity"`
	AvailableFunds float64 `json:"available_funds"`
	Balance        float64 `json:"balance"`
	MarginBalance  float64 `json:"margin_balance"`
	TotalPL        float64 `json:"total_pl"`
}

// PositionData is one element of a get_positions reply.
type PositionData struct {
	InstrumentName string  `json:"instrument_name"`
	Size           float64 `json:"size"`
	SizeCurrency   float64 `json:"size_currency"`
	Kind           string  `json:"kind"`
	Direction      string  `json:"direction"`
}
