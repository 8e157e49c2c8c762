package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeName represents supported exchange identifiers
type ExchangeName string

const (
	Binance ExchangeName = "binance"
)

// ErrMalformedMessage marks a stream payload that could not be turned into a DepthUpdate
var ErrMalformedMessage = errors.New("malformed message")

// Transport is the pair of network capabilities the engine depends on
type Transport interface {
	// FetchSnapshot fetches a full orderbook snapshot. On failure no partial
	// snapshot is returned.
	FetchSnapshot(ctx context.Context, symbol string) (*Snapshot, error)

	// OpenStream opens the diff-depth stream for symbol and reports its events
	// through handlers. The returned CloseFunc is idempotent, and no handler
	// is invoked for anything read after it has been called. A handler already
	// running when it is called may still complete, so callers tag handler
	// events with a session and drop those of a closed stream.
	OpenStream(ctx context.Context, symbol string, handlers StreamHandlers) CloseFunc
}

// StreamHandlers receives the events of one delta stream
type StreamHandlers struct {
	OnOpen  func()
	OnDelta func(update *DepthUpdate)
	OnClose func(wasClean bool, code int)
	OnError func(err error)
}

// CloseFunc tears down a stream
type CloseFunc func()

// Snapshot represents a canonical orderbook snapshot (normalized across exchanges)
type Snapshot struct {
	Exchange     ExchangeName // Exchange name
	Symbol       string       // Trading symbol
	LastUpdateID int64        // Last update ID from exchange
	Bids         []PriceLevel // Bid levels [price, quantity]
	Asks         []PriceLevel // Ask levels [price, quantity]
	Timestamp    time.Time    // Snapshot timestamp
}

// DepthUpdate represents a canonical depth update event (normalized across exchanges)
type DepthUpdate struct {
	Exchange      ExchangeName // Exchange name
	Symbol        string       // Trading symbol
	EventTime     time.Time    // Event timestamp
	FirstUpdateID int64        // First update ID in this event
	FinalUpdateID int64        // Final update ID in this event
	Bids          []PriceLevel // Updated bid levels
	Asks          []PriceLevel // Updated ask levels
}

// Validate checks that the update can be reconciled. Every failure wraps
// ErrMalformedMessage.
func (u *DepthUpdate) Validate() error {
	if u.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrMalformedMessage)
	}
	if u.FirstUpdateID <= 0 || u.FinalUpdateID < u.FirstUpdateID {
		return fmt.Errorf("%w: bad update id range [%d, %d]", ErrMalformedMessage, u.FirstUpdateID, u.FinalUpdateID)
	}
	for _, level := range u.Bids {
		if err := level.validate(); err != nil {
			return fmt.Errorf("%w: bid %v", ErrMalformedMessage, err)
		}
	}
	for _, level := range u.Asks {
		if err := level.validate(); err != nil {
			return fmt.Errorf("%w: ask %v", ErrMalformedMessage, err)
		}
	}
	return nil
}

// PriceLevel represents a single price level [price, quantity]
type PriceLevel struct {
	Price    string // Price as string to avoid precision loss
	Quantity string // Quantity as string to avoid precision loss
}

func (l PriceLevel) validate() error {
	if _, err := decimal.NewFromString(l.Price); err != nil {
		return fmt.Errorf("invalid price %q", l.Price)
	}
	qty, err := decimal.NewFromString(l.Quantity)
	if err != nil {
		return fmt.Errorf("invalid quantity %q", l.Quantity)
	}
	if qty.IsNegative() {
		return fmt.Errorf("negative quantity %q", l.Quantity)
	}
	return nil
}

// LevelsFromPairs converts raw [price, quantity] pairs, skipping short entries
func LevelsFromPairs(pairs [][]string) []PriceLevel {
	levels := make([]PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		levels = append(levels, PriceLevel{Price: pair[0], Quantity: pair[1]})
	}
	return levels
}

// HealthStatus represents connection health information
type HealthStatus struct {
	Connected     bool
	LastMessage   time.Time
	MessageCount  int64
	ErrorCount    int64
	ReconnectTime *time.Time
}
