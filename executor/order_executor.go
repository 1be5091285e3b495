// Package executor implements the Order Executor: a single-threaded loop
// that turns Trading Signals arriving on the Signal Channel into orders
// submitted through the Broker Gateway Client.
package executor

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

// defaultPollInterval is how often the loop polls the signal socket when
// nothing is queued.
const defaultPollInterval = 100 * time.Millisecond

// GatewayClient is the narrow slice of *gateway.Client the Order Executor
// needs. Defined here, the consumer, so tests can substitute a fake without
// opening a real socket.
type GatewayClient interface {
	SendOrder(order models.OrderRequest) (models.OrderResponse, error)
	IsConnected() bool
}

// Executor consumes Trading Signals and submits orders to the Broker
// Gateway. It is single-threaded by construction: one signal is fully
// processed before the next is received.
type Executor struct {
	puller          *zmqtransport.SignalPuller
	client          GatewayClient
	sessions        *store.SessionStore
	defaultQuantity int
	pollInterval    time.Duration

	mu     sync.Mutex
	status models.ComponentStatus
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewExecutor wires a signal puller, a Broker Gateway Client, and the
// Session Store. defaultQuantity is used for every generated order
// (§4.6 step 3); if zero, it falls back to 1.
func NewExecutor(puller *zmqtransport.SignalPuller, client GatewayClient, sessions *store.SessionStore, defaultQuantity int) *Executor {
	if defaultQuantity <= 0 {
		defaultQuantity = 1
	}
	return &Executor{
		puller:          puller,
		client:          client,
		sessions:        sessions,
		defaultQuantity: defaultQuantity,
		pollInterval:    defaultPollInterval,
		status:          models.StatusStopped,
	}
}

// Status returns the executor's current lifecycle state.
func (ex *Executor) Status() models.ComponentStatus {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.status
}

// Start spawns the polling loop.
func (ex *Executor) Start(ctx context.Context) error {
	ex.mu.Lock()
	if ex.status == models.StatusRunning {
		ex.mu.Unlock()
		return nil
	}
	ex.status = models.StatusStarting
	ex.stopCh = make(chan struct{})
	ex.doneCh = make(chan struct{})
	ex.status = models.StatusRunning
	ex.mu.Unlock()

	go ex.run(ctx)
	log.Info().Msg("order executor started")
	return nil
}

func (ex *Executor) run(ctx context.Context) {
	defer close(ex.doneCh)
	ticker := time.NewTicker(ex.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ex.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ex.pollOnce()
		}
	}
}

// pollOnce processes at most one queued signal. It checks the stop flag
// before receiving; run's select checks it again between iterations.
func (ex *Executor) pollOnce() {
	select {
	case <-ex.stopCh:
		return
	default:
	}

	payload, ok := ex.puller.TryReceive()
	if !ok {
		return
	}

	var signal models.TradingSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		log.Warn().Err(err).Msg("order executor: discarding non-signal payload")
		return
	}

	ex.processSignal(signal)
}

func (ex *Executor) processSignal(signal models.TradingSignal) {
	if (signal.Operation != models.OrderSideBuy && signal.Operation != models.OrderSideSell) || signal.CommodityID == "" {
		log.Warn().Msg("order executor: discarding payload that is not a trading signal")
		return
	}

	log.Info().
		Str("operation", string(signal.Operation)).
		Str("commodity_id", signal.CommodityID).
		Time("when", signal.When).
		Msg("order executor: received trading signal")

	orderAccount, err := ex.sessions.OrderAccount()
	if err != nil {
		log.Error().Err(err).Msg("order executor: failed to read order account")
		return
	}
	if orderAccount == "" {
		log.Error().Msg("order executor: cannot execute order, no order account selected")
		return
	}

	if !ex.client.IsConnected() {
		log.Warn().Msg("order executor: broker gateway not connected, skipping signal")
		return
	}

	order := models.OrderRequest{
		OrderAccount: orderAccount,
		ItemCode:     signal.CommodityID,
		Side:         signal.Operation,
		OrderType:    models.OrderTypeMarket,
		Price:        0,
		Quantity:     ex.defaultQuantity,
		OpenClose:    models.OpenCloseAuto,
		Note:         "strategy engine signal",
		DayTrade:     models.DayTradeNo,
		TimeInForce:  models.TimeInForceIOC,
	}

	result, err := ex.client.SendOrder(order)
	if err != nil {
		log.Error().Err(err).Msg("order executor: order submission failed")
		return
	}
	log.Info().Str("order_serial", result.OrderSerial).Str("error_code", result.ErrorCode).Msg("order executor: order submitted")
}

// Stop signals the polling loop and waits up to 2s for it to exit.
func (ex *Executor) Stop() {
	ex.mu.Lock()
	if ex.status == models.StatusStopped {
		ex.mu.Unlock()
		return
	}
	ex.status = models.StatusStopping
	stopCh := ex.stopCh
	doneCh := ex.doneCh
	ex.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(2 * time.Second):
			log.Warn().Msg("order executor did not stop within grace period")
		}
	}

	ex.mu.Lock()
	ex.status = models.StatusStopped
	ex.mu.Unlock()
	log.Info().Msg("order executor stopped")
}
