package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ConditionState is the tagged state of a Condition's lifecycle. Using a sum
// type instead of three independent booleans forbids the impossible
// combinations the three-flag encoding would otherwise admit (e.g. ordered
// but not triggered).
type ConditionState string

const (
	ConditionWaiting   ConditionState = "WAITING"
	ConditionTriggered ConditionState = "TRIGGERED"
	ConditionOpen      ConditionState = "OPEN"
	ConditionExited    ConditionState = "EXITED"
)

// Condition is a user-defined rule with trigger/entry/exit price thresholds
// and a lifecycle driven by the Strategy Engine's per-tick state machine.
type Condition struct {
	ConditionID string `json:"condition_id"`

	// Configured fields.
	Action          OrderSide `json:"action"`
	TriggerPrice    int       `json:"trigger_price"`
	TurningPoint    int       `json:"turning_point"`
	Quantity        int       `json:"quantity"`
	TakeProfitPoint int       `json:"take_profit_point"`
	StopLossPoint   int       `json:"stop_loss_point"`
	IsFollowing     bool      `json:"is_following"`

	// Derived fields, recomputed by Derive() on construction and on every
	// trailing adjustment.
	OrderPrice      int `json:"order_price"`
	TakeProfitPrice int `json:"take_profit_price"`
	StopLossPrice   int `json:"stop_loss_price"`

	// Runtime flags. State() folds these into a ConditionState.
	IsTrigger bool `json:"is_trigger"`
	IsOrdered bool `json:"is_ordered"`
	IsExited  bool `json:"is_exited"`
}

// NewCondition constructs a Condition with a fresh UUID and derives its
// order/take-profit/stop-loss prices from the configured fields.
func NewCondition(action OrderSide, triggerPrice, turningPoint, quantity, takeProfitPoint, stopLossPoint int, isFollowing bool) *Condition {
	c := &Condition{
		ConditionID:     uuid.NewString(),
		Action:          action,
		TriggerPrice:    triggerPrice,
		TurningPoint:    turningPoint,
		Quantity:        quantity,
		TakeProfitPoint: takeProfitPoint,
		StopLossPoint:   stopLossPoint,
		IsFollowing:     isFollowing,
	}
	c.Derive()
	return c
}

// Derive recomputes OrderPrice, TakeProfitPrice, and StopLossPrice from
// TriggerPrice, TurningPoint, TakeProfitPoint, and StopLossPoint using the
// direction implied by Action. Called on construction and again whenever a
// trailing adjustment moves TriggerPrice.
func (c *Condition) Derive() {
	switch c.Action {
	case OrderSideBuy:
		c.OrderPrice = c.TriggerPrice + c.TurningPoint
		c.TakeProfitPrice = c.OrderPrice + c.TakeProfitPoint
		c.StopLossPrice = c.OrderPrice - c.StopLossPoint
	case OrderSideSell:
		c.OrderPrice = c.TriggerPrice - c.TurningPoint
		c.TakeProfitPrice = c.OrderPrice - c.TakeProfitPoint
		c.StopLossPrice = c.OrderPrice + c.StopLossPoint
	}
}

// State folds the three runtime flags into a single tagged state.
func (c *Condition) State() ConditionState {
	switch {
	case c.IsExited:
		return ConditionExited
	case c.IsOrdered:
		return ConditionOpen
	case c.IsTrigger:
		return ConditionTriggered
	default:
		return ConditionWaiting
	}
}

// ValidateDirection checks the invariant that derived prices fall on the
// correct side of the order price for the condition's action.
func (c *Condition) ValidateDirection() error {
	switch c.Action {
	case OrderSideBuy:
		if !(c.StopLossPrice < c.OrderPrice && c.OrderPrice < c.TakeProfitPrice) {
			return fmt.Errorf("condition %s: BUY requires stop_loss < order < take_profit, got %d < %d < %d",
				c.ConditionID, c.StopLossPrice, c.OrderPrice, c.TakeProfitPrice)
		}
	case OrderSideSell:
		if !(c.TakeProfitPrice < c.OrderPrice && c.OrderPrice < c.StopLossPrice) {
			return fmt.Errorf("condition %s: SELL requires take_profit < order < stop_loss, got %d < %d < %d",
				c.ConditionID, c.TakeProfitPrice, c.OrderPrice, c.StopLossPrice)
		}
	default:
		return fmt.Errorf("condition %s: unknown action %q", c.ConditionID, c.Action)
	}
	return nil
}
