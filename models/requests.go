package models

import (
	"fmt"
	"sync/atomic"
)

var requestID int64

// NextRequestID returns a process-unique id for outbound requests.
func NextRequestID() int64 {
	return atomic.AddInt64(&requestID, 1)
}

// AuthRequest builds a client-credentials authentication request.
func AuthRequest(clientID, clientSecret string) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      NextRequestID(),
		Method:  "public/auth",
		Params: map[string]interface{}{
			"grant_type":    "client_credentials",
			"client_id":     clientID,
			"client_secret": clientSecret,
		},
	}
}

// SetHeartbeatRequest asks the exchange to emit heartbeat frames every
// interval seconds.
func SetHeartbeatRequest(intervalSec int) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      NextRequestID(),
		Method:  "public/set_heartbeat",
		Params:  map[string]interface{}{"interval": intervalSec},
	}
}

// TestRequest is the liveness echo sent in reply to a heartbeat frame.
func TestRequest() Request {
	return Request{
		JSONRPC: "2.0",
		ID:      NextRequestID(),
		Method:  "public/test",
		Params:  map[string]interface{}{},
	}
}

// SubscribeRequest subscribes to the given channels. Private channels
// require prior authentication and use the private/subscribe method.
func SubscribeRequest(channels []string, private bool) Request {
	method := "public/subscribe"
	if private {
		method = "private/subscribe"
	}
	return Request{
		JSONRPC: "2.0",
		ID:      NextRequestID(),
		Method:  method,
		Params:  map[string]interface{}{"channels": channels},
	}
}

// BookChannel names a depth-limited order book channel.
func BookChannel(instrument, group string, depth int, interval string) string {
	return fmt.Sprintf("book.%s.%s.%d.%s", instrument, group, depth, interval)
}

// TradesChannel names a trades channel.
func TradesChannel(instrument, interval string) string {
	return fmt.Sprintf("trades.%s.%s", instrument, interval)
}

// UserOrdersChannel names the own-orders channel for an instrument.
func UserOrdersChannel(instrument string) string {
	return fmt.Sprintf("user.orders.%s.raw", instrument)
}

// UserPortfolioChannel names the portfolio channel for a currency.
func UserPortfolioChannel(currency string) string {
	return fmt.Sprintf("user.portfolio.%s", currency)
}

// OrderRequest builds a private/buy or private/sell request. Price is only
// attached for limit orders.
func OrderRequest(side, instrument string, amount float64, orderType, tag string, price float64) Request {
	params := map[string]interface{}{
		"instrument_name": instrument,
		"amount":          amount,
		"type":            orderType,
		"label":           tag,
	}
	if orderType == "limit" {
		params["price"] = price
	}
	return Request{
		JSONRPC: "2.0",
		ID:      NextRequestID(),
		Method:  fmt.Sprintf("private/%s", side),
		Params:  params,
	}
}

// GetPositionsRequest asks for all positions of one currency and kind.
func GetPositionsRequest(currency, kind string) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      NextRequestID(),
		Method:  "private/get_positions",
		Params: map[string]interface{}{
			"currency": currency,
			"kind":     kind,
		},
	}
}
