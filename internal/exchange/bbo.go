package exchange

import (
	"sync"
	"time"
)

// BBOCache mirrors the best-bid/best-offer for every subscribed symbol,
// updated from public WS orderbook events with a REST fallback for staleness
// recovery. It is concurrency-safe (RWMutex protected), generalising
// market.Book's single-market mirror to the multi-symbol funding-basis
// universe.
type BBOCache struct {
	mu      sync.RWMutex
	entries map[Symbol]BBO
	maxAge  time.Duration
}

// NewBBOCache constructs a cache whose freshness gate is maxAge (default
// 3000ms per the spec's bbo_max_age_ms).
func NewBBOCache(maxAge time.Duration) *BBOCache {
	if maxAge <= 0 {
		maxAge = 3 * time.Second
	}
	return &BBOCache{entries: make(map[Symbol]BBO), maxAge: maxAge}
}

// Update replaces the cached BBO for its symbol.
func (c *BBOCache) Update(b BBO) {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
	c.mu.Lock()
	c.entries[b.Symbol] = b
	c.mu.Unlock()
}

// Get returns the cached BBO for symbol and whether it is present at all
// (regardless of freshness — callers that need freshness call Valid).
func (c *BBOCache) Get(symbol Symbol) (BBO, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[symbol]
	return b, ok
}

// Valid reports whether symbol has a cached BBO no older than maxAge, with
// both sides of the book non-zero and the bid strictly below the ask.
func (c *BBOCache) Valid(symbol Symbol) bool {
	b, ok := c.Get(symbol)
	if !ok {
		return false
	}
	if b.BidPrice.IsZero() || b.AskPrice.IsZero() {
		return false
	}
	if b.BidPrice.GreaterThanOrEqual(b.AskPrice) {
		return false
	}
	return time.Since(b.UpdatedAt) <= c.maxAge
}
