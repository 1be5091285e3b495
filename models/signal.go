package models

import "time"

// TradingSignal is an instruction emitted by the Strategy Engine to BUY or
// SELL a symbol, carried over the Signal Channel to the Order Executor.
// Immutable; consumed exactly once per delivery.
type TradingSignal struct {
	When        time.Time `json:"when"`
	Operation   OrderSide `json:"operation"`
	CommodityID string    `json:"commodity_id"`
}

// NewTradingSignal builds a signal timestamped at the moment of emission.
func NewTradingSignal(operation OrderSide, commodityID string) TradingSignal {
	return TradingSignal{
		When:        time.Now().UTC(),
		Operation:   operation,
		CommodityID: commodityID,
	}
}
