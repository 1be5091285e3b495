// Package execution provides paper trading broker implementation.
package execution

import (
	"fmt"
	"sync"

	"github.com/arlojex/tradepipe/models"
	"github.com/rs/zerolog/log"
)

// PaperBroker is a Broker implementation that simulates fills instantly
// against a caller-supplied price book, for use behind the Broker Gateway
// Server in development and tests. No real money and no real broker SDK is
// involved.
type PaperBroker struct {
	name          string
	connected     bool
	mu            sync.RWMutex
	latestPrices  map[string]float64
	positions     map[positionKey]models.Position
	serialCounter int
}

type positionKey struct {
	account  string
	itemCode string
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		name:         "paper",
		latestPrices: make(map[string]float64),
		positions:    make(map[positionKey]models.Position),
	}
}

// Name returns the broker name.
func (b *PaperBroker) Name() string {
	return b.name
}

// Connect establishes connection (instant for paper trading).
func (b *PaperBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	log.Info().Msg("paper broker connected")
	return nil
}

// Disconnect closes the connection.
func (b *PaperBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	log.Info().Msg("paper broker disconnected")
	return nil
}

// IsConnected returns true if connected.
func (b *PaperBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// SetPrice sets the latest simulated price for an item code.
func (b *PaperBroker) SetPrice(itemCode string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latestPrices[itemCode] = price
}

// PlaceOrder simulates instant order execution against the last price set
// via SetPrice, updating the simulated position for req.OrderAccount.
func (b *PaperBroker) PlaceOrder(req models.OrderRequest) (models.OrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return models.OrderResponse{}, fmt.Errorf("paper broker: not connected")
	}

	price := req.Price
	if req.OrderType == models.OrderTypeMarket {
		last, ok := b.latestPrices[req.ItemCode]
		if !ok {
			return models.OrderResponse{
				ErrorCode: "NULL_RESULT",
				ErrorMsg:  fmt.Sprintf("no simulated price available for %s", req.ItemCode),
			}, nil
		}
		price = last
	}

	b.serialCounter++
	serial := fmt.Sprintf("paper-%06d", b.serialCounter)

	key := positionKey{account: req.OrderAccount, itemCode: req.ItemCode}
	pos := b.positions[key]
	pos.Account = req.OrderAccount
	pos.ItemCode = req.ItemCode

	signedQty := req.Quantity
	if req.Side == models.OrderSideSell {
		signedQty = -signedQty
	}
	newQty := pos.Quantity + signedQty
	if pos.Quantity != 0 && (newQty == 0 || (newQty > 0) != (pos.Quantity > 0)) {
		pos.AveragePrice = price
	} else if pos.Quantity == 0 {
		pos.AveragePrice = price
	}
	pos.Quantity = newQty
	pos.UnrealizedPnL = float64(pos.Quantity) * (price - pos.AveragePrice)

	if pos.Quantity == 0 {
		delete(b.positions, key)
	} else {
		b.positions[key] = pos
	}

	log.Info().
		Str("order_serial", serial).
		Str("item_code", req.ItemCode).
		Str("side", string(req.Side)).
		Int("quantity", req.Quantity).
		Float64("price", price).
		Msg("paper order executed")

	return models.OrderResponse{
		Accepted:    true,
		Note:        req.Note,
		OrderSerial: serial,
	}, nil
}

// GetPositions returns current simulated positions for account.
func (b *PaperBroker) GetPositions(account string) ([]models.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	positions := make([]models.Position, 0)
	for key, pos := range b.positions {
		if key.account == account {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}
