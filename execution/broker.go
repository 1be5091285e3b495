// Package execution provides the narrow Broker Capability interface and a
// paper-trading implementation of it. The Broker Capability is the only
// thing the Broker Gateway Server is allowed to call; every other process
// is forbidden from loading a broker binding directly.
package execution

import (
	"github.com/arlojex/tradepipe/models"
)

// Broker is the narrow interface to a native broker library that the
// Broker Gateway Server exclusively owns. Implementations wrap whatever
// broker SDK is actually linked in; that binding itself is out of scope
// here and treated as opaque.
type Broker interface {
	// Name returns the broker name, surfaced in logs and audit records.
	Name() string

	// Connect establishes the connection to the broker.
	Connect() error

	// Disconnect closes the broker connection.
	Disconnect() error

	// IsConnected reports whether the broker connection is currently live.
	IsConnected() bool

	// PlaceOrder submits an order and returns the broker's response,
	// including order_serial on acceptance or an error code on rejection.
	PlaceOrder(req models.OrderRequest) (models.OrderResponse, error)

	// GetPositions returns current positions for account.
	GetPositions(account string) ([]models.Position, error)
}
