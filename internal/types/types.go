package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionState is the lifecycle state of the engine's market data session
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// PriceLevel represents a single stored price level in the order book
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// PriceLevelMap maps the exchange's exact price string to its level.
// A stored level never has a zero quantity.
type PriceLevelMap map[string]PriceLevel

// OrderLevel is one row of the depth-limited view. Total is the cumulative
// quantity from the best price outward on that side.
type OrderLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

// SymbolInfo holds the static trading rules of a symbol
type SymbolInfo struct {
	Symbol            string          `json:"symbol"`
	TickSize          decimal.Decimal `json:"tickSize"`
	PricePrecision    int32           `json:"pricePrecision"`
	QuantityPrecision int32           `json:"quantityPrecision"`
}

// Stats holds statistical information derived from the reconciled book
type Stats struct {
	BestBid       decimal.Decimal
	BestAsk       decimal.Decimal
	MidPrice      decimal.Decimal
	Spread        decimal.Decimal
	SpreadPercent decimal.Decimal // rounded to 2 decimal places
	MaxTotal      decimal.Decimal // largest cumulative total across both visible sides

	// Full book, not just the visible levels
	BidLevels    int
	AskLevels    int
	TotalBidsQty decimal.Decimal
	TotalAsksQty decimal.Decimal
	TotalDelta   decimal.Decimal // TotalBidsQty - TotalAsksQty (positive = more bids)

	EventsProcessed int64 // deltas that changed the book
	StaleEvents     int64 // deltas rejected by sequence id
	DroppedEvents   int64 // deltas dropped because the pending buffer was full
	ForeignEvents   int64 // deltas tagged with another symbol
	BufferedEvents  int
	LastEventTime   time.Time
}

// BookView is the consumer-facing state of the engine. It is replaced, never
// mutated, at batch flushes and state transitions.
type BookView struct {
	Symbol       string
	SessionID    string
	Bids         []OrderLevel
	Asks         []OrderLevel
	Status       ConnectionState
	Err          error
	Paused       bool
	LastUpdateID int64
	Stats        Stats
	UpdatedAt    time.Time
}

// IsLoading reports whether the engine is connecting and has nothing to show yet
func (v BookView) IsLoading() bool {
	return v.Status == StateConnecting && len(v.Bids) == 0
}
