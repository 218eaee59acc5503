package model

import "time"

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType uses the brokerage's wire names.
type OrderType string

const (
	Market       OrderType = "market"
	Limit        OrderType = "limit"
	TrailingStop OrderType = "trailing_stop"
)

// TimeInForce uses the brokerage's wire names.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	GTC    TimeInForce = "gtc"
	IOC    TimeInForce = "ioc"
)

// OrderStatus filters order listings.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusAll      OrderStatus = "all"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
	StatusNew      OrderStatus = "new"
)

// AccountSnapshot is read fresh before every decision that spends capital.
type AccountSnapshot struct {
	Cash           float64
	BuyingPower    float64
	TradingBlocked bool
}

// AccountConfigurations are the account-level switches the bot touches.
type AccountConfigurations struct {
	NoShorting        bool   `json:"no_shorting"`
	DTBPCheck         string `json:"dtbp_check,omitempty"`
	TradeConfirmEmail string `json:"trade_confirm_email,omitempty"`
	SuspendTrade      bool   `json:"suspend_trade"`
}

// Position is owned by the brokerage; the bot only reads it.
type Position struct {
	Symbol       string
	Qty          float64
	MarketValue  float64
	UnrealizedPL float64
}

// Order is a normalized view of a brokerage order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Qty           float64
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Status        OrderStatus
	TrailPercent  float64
	TrailPrice    float64
	FilledQty     float64
	FilledAvg     float64
	CreatedAt     time.Time
}

// OrderRequest is what gets submitted. Exactly one of TrailPrice and
// TrailPercent is set for trailing stops.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	TrailPrice    float64
	TrailPercent  float64
	ClientOrderID string
}
