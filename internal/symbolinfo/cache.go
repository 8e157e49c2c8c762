package symbolinfo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"depthsync/internal/types"
)

// Cache fetches SymbolInfo once per symbol and keeps it for the life of the
// process. Failed fetches are not cached.
type Cache struct {
	provider types.SymbolInfoProvider

	mu      sync.RWMutex
	entries map[string]types.SymbolInfo
}

// NewCache creates a cache in front of provider
func NewCache(provider types.SymbolInfoProvider) *Cache {
	return &Cache{
		provider: provider,
		entries:  make(map[string]types.SymbolInfo),
	}
}

// Get returns the cached info for symbol, fetching it on first use
func (c *Cache) Get(ctx context.Context, symbol string) (types.SymbolInfo, error) {
	symbol = strings.ToUpper(symbol)

	if info, ok := c.Peek(symbol); ok {
		return info, nil
	}

	info, err := c.provider.SymbolInfo(ctx, symbol)
	if err != nil {
		return types.SymbolInfo{}, fmt.Errorf("symbol info for %s: %w", symbol, err)
	}

	c.mu.Lock()
	// A concurrent fetch may have won; keep the first stored value.
	if existing, ok := c.entries[symbol]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.entries[symbol] = info
	c.mu.Unlock()

	return info, nil
}

// Peek returns the cached info without fetching
func (c *Cache) Peek(symbol string) (types.SymbolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[strings.ToUpper(symbol)]
	return info, ok
}
