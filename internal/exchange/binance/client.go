package binance

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"depthsync/internal/exchange"
	"depthsync/internal/symbolinfo"
	"depthsync/internal/types"

	gbinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

const defaultTickSize = "0.01"

// Client implements exchange.Transport and types.SymbolInfoProvider for Binance Spot
type Client struct {
	cfg    Config
	rest   *gbinance.Client
	health atomic.Value // stores exchange.HealthStatus
}

// NewClient creates a new Binance Spot client
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = 1000
	}

	rest := gbinance.NewClient("", "")
	if cfg.RestURL != "" {
		rest.BaseURL = strings.TrimSuffix(cfg.RestURL, "/")
	}
	rest.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}

	c := &Client{
		cfg:  cfg,
		rest: rest,
	}
	c.health.Store(exchange.HealthStatus{})

	return c
}

// GetName returns the exchange name
func (c *Client) GetName() exchange.ExchangeName {
	return exchange.Binance
}

// FetchSnapshot fetches the orderbook snapshot via the REST depth endpoint
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (*exchange.Snapshot, error) {
	symbol = strings.ToUpper(symbol)
	log.Printf("[%s] Fetching %s orderbook snapshot...", c.GetName(), symbol)

	res, err := c.rest.NewDepthService().Symbol(symbol).Limit(c.cfg.SnapshotLimit).Do(ctx)
	if err != nil {
		c.incrementErrorCount()
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	bids := make([]exchange.PriceLevel, len(res.Bids))
	for i, bid := range res.Bids {
		bids[i] = exchange.PriceLevel{Price: bid.Price, Quantity: bid.Quantity}
	}

	asks := make([]exchange.PriceLevel, len(res.Asks))
	for i, ask := range res.Asks {
		asks[i] = exchange.PriceLevel{Price: ask.Price, Quantity: ask.Quantity}
	}

	return &exchange.Snapshot{
		Exchange:     c.GetName(),
		Symbol:       symbol,
		LastUpdateID: res.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		Timestamp:    time.Now(),
	}, nil
}

// SymbolInfo fetches tick size and precisions from the exchangeInfo endpoint
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error) {
	symbol = strings.ToUpper(symbol)

	info, err := c.rest.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		c.incrementErrorCount()
		return types.SymbolInfo{}, fmt.Errorf("failed to fetch exchange info: %w", err)
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}

		tick := defaultTickSize
		if pf := s.PriceFilter(); pf != nil && pf.TickSize != "" {
			tick = pf.TickSize
		}
		tickSize, err := decimal.NewFromString(tick)
		if err != nil {
			return types.SymbolInfo{}, fmt.Errorf("invalid tick size %q: %w", tick, err)
		}

		return types.SymbolInfo{
			Symbol:            s.Symbol,
			TickSize:          tickSize,
			PricePrecision:    symbolinfo.PrecisionFromTickSize(tickSize),
			QuantityPrecision: int32(s.BaseAssetPrecision),
		}, nil
	}

	return types.SymbolInfo{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

// Health returns connection health information
func (c *Client) Health() exchange.HealthStatus {
	if status, ok := c.health.Load().(exchange.HealthStatus); ok {
		return status
	}
	return exchange.HealthStatus{}
}

// streamURL builds the raw diff-depth stream URL for symbol
func (c *Client) streamURL(symbol string) string {
	stream := strings.ToLower(symbol) + "@depth"
	if c.cfg.UpdateSpeed != "" {
		stream += "@" + c.cfg.UpdateSpeed
	}
	return strings.TrimSuffix(c.cfg.StreamURL, "/") + "/" + stream
}

// updateConnectionStatus updates the connection status in health
func (c *Client) updateConnectionStatus(connected bool) {
	status := c.Health()
	status.Connected = connected
	if !connected {
		now := time.Now()
		status.ReconnectTime = &now
	}
	c.health.Store(status)
}

// recordMessage increments the message count and last message time in health
func (c *Client) recordMessage() {
	status := c.Health()
	status.MessageCount++
	status.LastMessage = time.Now()
	c.health.Store(status)
}

// incrementErrorCount increments the error count in health
func (c *Client) incrementErrorCount() {
	status := c.Health()
	status.ErrorCount++
	c.health.Store(status)
}
