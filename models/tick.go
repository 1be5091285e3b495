package models

import (
	"strings"
	"time"
)

// Tick is a single market-data observation, produced by the Tick Publisher
// and consumed by the Strategy Engine. Immutable once constructed.
type Tick struct {
	CommodityID string    `json:"commodity_id"`
	MatchPrice  float64   `json:"match_price"`
	ObservedAt  time.Time `json:"observed_at"`
}

// NewTick normalizes raw broker callback fields into a Tick: the commodity
// code is upper-cased and ObservedAt is the observedAt the caller passes
// (the Tick Publisher passes its handoff time). A
// price that failed upstream parsing should already have been coerced to 0
// by the caller; NewTick does not itself attempt parsing.
func NewTick(commodityID string, matchPrice float64, observedAt time.Time) Tick {
	return Tick{
		CommodityID: strings.ToUpper(commodityID),
		MatchPrice:  matchPrice,
		ObservedAt:  observedAt,
	}
}
