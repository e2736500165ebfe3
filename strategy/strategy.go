package strategy

import "deriflow/models"

// Strategy is the consumer callback contract. Every method is invoked
// synchronously from the session dispatch loop, so implementations must
// return promptly and must not call back into the order tracker.
type Strategy interface {
	OnOrderBookUpdate(instrument models.Instrument)
	OnTradeUpdate(instrument models.Instrument)
	OnOrderUpdate(order models.OrderRecord)
	OnOrderCreation(order models.OrderRecord)
	OnPositionMismatch(instrument string, tracked, reported float64)
	OnInsufficientFunds(err models.RPCError)
	OnPriceRejected(err models.RPCError)
}

// Empty is a no-op Strategy for pure data-recording runs.
type Empty struct{}

func (Empty) OnOrderBookUpdate(models.Instrument)         {}
func (Empty) OnTradeUpdate(models.Instrument)             {}
func (Empty) OnOrderUpdate(models.OrderRecord)            {}
func (Empty) OnOrderCreation(models.OrderRecord)          {}
func (Empty) OnPositionMismatch(string, float64, float64) {}
func (Empty) OnInsufficientFunds(models.RPCError)         {}
func (Empty) OnPriceRejected(models.RPCError)             {}
