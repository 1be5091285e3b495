package models

// OrderSide represents the direction of an order or an entry/exit signal.
type OrderSide string

const (
	// OrderSideBuy represents a buy order.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell represents a sell order.
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side an exit order takes for a position opened on s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of order the gateway will submit.
type OrderType string

const (
	// OrderTypeMarket is a market order executed at current price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit is a limit order executed at a specified price or better.
	OrderTypeLimit OrderType = "LIMIT"
)

// OpenClose indicates whether an order opens a new position, closes an
// existing one, or lets the broker decide automatically.
type OpenClose string

const (
	OpenCloseOpen  OpenClose = "OPEN"
	OpenCloseAuto  OpenClose = "AUTO"
	OpenCloseClose OpenClose = "CLOSE"
)

// DayTrade marks whether an order is flagged for same-day round-trip.
type DayTrade string

const (
	DayTradeYes DayTrade = "Y"
	DayTradeNo  DayTrade = "N"
)

// TimeInForce controls how long an order remains working.
type TimeInForce string

const (
	TimeInForceROD TimeInForce = "ROD"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderRequest is the DTO exchanged between the Order Executor, the Broker
// Gateway Client, and the Broker Gateway Server's send_order operation.
type OrderRequest struct {
	OrderAccount string      `json:"order_account" validate:"required"`
	ItemCode     string      `json:"item_code" validate:"required"`
	Side         OrderSide   `json:"side" validate:"required,oneof=BUY SELL"`
	OrderType    OrderType   `json:"order_type" validate:"required,oneof=MARKET LIMIT"`
	Price        float64     `json:"price"`
	Quantity     int         `json:"quantity" validate:"required,gte=1"`
	OpenClose    OpenClose   `json:"open_close" validate:"required,oneof=OPEN AUTO CLOSE"`
	Note         string      `json:"note"`
	DayTrade     DayTrade    `json:"day_trade" validate:"required,oneof=Y N"`
	TimeInForce  TimeInForce `json:"time_in_force" validate:"required,oneof=ROD IOC FOK"`
}

// OrderResponse is the result of a send_order call. Field names match the
// gateway's response data shape verbatim.
type OrderResponse struct {
	Accepted    bool   `json:"is_send_order"`
	Note        string `json:"note"`
	OrderSerial string `json:"order_serial"`
	ErrorCode   string `json:"error_code"`
	ErrorMsg    string `json:"error_message"`
}
