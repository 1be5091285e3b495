// Package strategy implements the Strategy Engine: the per-tick condition
// state machine that watches incoming prices and emits Trading Signals
// when a Condition's trigger, entry, or exit thresholds are crossed.
package strategy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/models"
	"github.com/arlojex/tradepipe/store"
	"github.com/arlojex/tradepipe/zmqtransport"
)

// Engine subscribes to the tick topic, evaluates every stored Condition on
// each tick, and pushes Trading Signals onto the Signal Channel.
type Engine struct {
	sub    *zmqtransport.Subscriber
	pusher *zmqtransport.SignalPusher
	store  *store.ConditionStore

	mu      sync.Mutex
	status  models.ComponentStatus
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEngine wires a tick subscriber, a signal pusher, and the shared
// Condition Store. Both sockets arrive already connected; Start only begins
// consuming ticks.
func NewEngine(sub *zmqtransport.Subscriber, pusher *zmqtransport.SignalPusher, conditionStore *store.ConditionStore) *Engine {
	return &Engine{
		sub:    sub,
		pusher: pusher,
		store:  conditionStore,
		status: models.StatusStopped,
	}
}

// Status returns the engine's current lifecycle state.
func (e *Engine) Status() models.ComponentStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Start spawns the tick-processing loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status == models.StatusRunning {
		e.mu.Unlock()
		return nil
	}
	e.status = models.StatusStarting
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.status = models.StatusRunning
	e.mu.Unlock()

	go e.run(ctx)
	log.Info().Msg("strategy engine started")
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, ok := e.sub.TryReceive()
		if !ok {
			select {
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		var tick models.Tick
		if err := json.Unmarshal(frame.Payload, &tick); err != nil {
			log.Warn().Err(err).Msg("strategy engine: discarding malformed tick")
			continue
		}

		e.onTick(tick)
	}
}

// onTick evaluates every condition in the store against the tick's price,
// persisting mutations and deleting conditions that exit in this cycle.
func (e *Engine) onTick(tick models.Tick) {
	price := int(tick.MatchPrice)

	conditions, err := e.store.GetAll()
	if err != nil {
		log.Error().Err(err).Msg("strategy engine: failed to load conditions")
		return
	}

	for _, c := range conditions {
		exited := e.processCondition(c, price, tick)
		if exited {
			if err := e.store.Delete(c.ConditionID); err != nil {
				log.Error().Err(err).Str("condition_id", c.ConditionID).Msg("strategy engine: failed to delete exited condition")
			}
			continue
		}
		if err := e.store.Update(c); err != nil {
			log.Error().Err(err).Str("condition_id", c.ConditionID).Msg("strategy engine: failed to persist condition")
		}
	}
}

// processCondition advances c by at most one state edge, then applies the
// trailing adjustment if c is still following and not yet ordered. Trailing
// runs unconditionally after the state edge, independent of which state c
// is in, so a following condition keeps trailing through Triggered (not
// just Waiting) until it orders.
func (e *Engine) processCondition(c *models.Condition, price int, tick models.Tick) bool {
	exited := false
	switch c.State() {
	case models.ConditionWaiting:
		e.evaluateWaiting(c, price)
	case models.ConditionTriggered:
		e.evaluateTriggered(c, price, tick)
	case models.ConditionOpen:
		exited = e.evaluateOpen(c, price, tick)
	}

	if c.IsFollowing && !c.IsOrdered {
		e.adjustTrailing(c, price)
	}

	return exited
}

func (e *Engine) evaluateWaiting(c *models.Condition, price int) {
	switch c.Action {
	case models.OrderSideBuy:
		if price <= c.TriggerPrice {
			log.Info().Str("condition_id", c.ConditionID).Int("price", price).Msg("condition triggered")
			c.IsTrigger = true
		}
	case models.OrderSideSell:
		if price >= c.TriggerPrice {
			log.Info().Str("condition_id", c.ConditionID).Int("price", price).Msg("condition triggered")
			c.IsTrigger = true
		}
	}
}

// adjustTrailing pulls the trigger price toward the market and recomputes
// every derived price from the new trigger, so take-profit and stop-loss
// track the trailing entry rather than the original one. Called once per
// tick for as long as the condition follows and has not yet ordered,
// regardless of whether it is still Waiting or already Triggered.
func (e *Engine) adjustTrailing(c *models.Condition, price int) {
	switch c.Action {
	case models.OrderSideBuy:
		if price <= c.TriggerPrice {
			log.Info().Str("condition_id", c.ConditionID).Int("price", price).Msg("trailing buy condition updated")
			c.TriggerPrice = price
			c.Derive()
		}
	case models.OrderSideSell:
		if price >= c.TriggerPrice {
			log.Info().Str("condition_id", c.ConditionID).Int("price", price).Msg("trailing sell condition updated")
			c.TriggerPrice = price
			c.Derive()
		}
	}
}

func (e *Engine) evaluateTriggered(c *models.Condition, price int, tick models.Tick) {
	switch c.Action {
	case models.OrderSideBuy:
		if price >= c.OrderPrice {
			e.emitSignal(c.Action, tick)
			c.IsOrdered = true
		}
	case models.OrderSideSell:
		if price <= c.OrderPrice {
			e.emitSignal(c.Action, tick)
			c.IsOrdered = true
		}
	}
}

func (e *Engine) evaluateOpen(c *models.Condition, price int, tick models.Tick) bool {
	switch c.Action {
	case models.OrderSideBuy:
		if price >= c.TakeProfitPrice || price <= c.StopLossPrice {
			e.emitSignal(c.Action.Opposite(), tick)
			c.IsExited = true
			return true
		}
	case models.OrderSideSell:
		if price <= c.TakeProfitPrice || price >= c.StopLossPrice {
			e.emitSignal(c.Action.Opposite(), tick)
			c.IsExited = true
			return true
		}
	}
	return false
}

// emitSignal pushes a Trading Signal on the Signal Channel. A send failure
// is logged but never undoes the caller's state transition: signal delivery
// is at-most-once by design.
func (e *Engine) emitSignal(operation models.OrderSide, tick models.Tick) {
	signal := models.NewTradingSignal(operation, tick.CommodityID)
	payload, err := json.Marshal(signal)
	if err != nil {
		log.Error().Err(err).Msg("strategy engine: failed to encode signal")
		return
	}
	if err := e.pusher.Send(payload); err != nil {
		log.Error().Err(err).Msg("strategy engine: failed to push signal")
	}
}

// Stop signals the processing loop and waits up to 2s for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.status == models.StatusStopped {
		e.mu.Unlock()
		return
	}
	e.status = models.StatusStopping
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(2 * time.Second):
			log.Warn().Msg("strategy engine did not stop within grace period")
		}
	}

	e.mu.Lock()
	e.status = models.StatusStopped
	e.mu.Unlock()
	log.Info().Msg("strategy engine stopped")
}
