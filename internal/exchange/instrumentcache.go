package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentFetcher loads fresh InstrumentMeta from the venue, implemented
// by Client against the live REST instruments-info endpoint.
type InstrumentFetcher interface {
	FetchInstrumentMeta(ctx context.Context, symbol Symbol) (InstrumentMeta, error)
}

type scaleState struct {
	lastScale    int32
	agreeCount   int
	ready        bool
	waitStart    time.Time
	readyAtCount int
}

// InstrumentCache TTL-caches InstrumentMeta per symbol and tracks
// price-scale readiness: a symbol becomes ready once scale_ready_count
// successive ticker observations agree on the same decimal scale, or once
// maxWait has elapsed since the first observation — whichever comes first.
// This mirrors market/scanner.go's poll-refresh loop, retargeted from
// Gamma market filtering to per-symbol tick/step metadata.
type InstrumentCache struct {
	fetcher InstrumentFetcher
	ttl     time.Duration
	required int
	maxWait  time.Duration

	mu     sync.RWMutex
	meta   map[Symbol]InstrumentMeta
	scales map[Symbol]*scaleState
}

// NewInstrumentCache constructs a cache with the given refresh TTL and
// scale-readiness parameters (required successive agreements, max wait).
func NewInstrumentCache(fetcher InstrumentFetcher, ttl time.Duration, required int, maxWait time.Duration) *InstrumentCache {
	return &InstrumentCache{
		fetcher:  fetcher,
		ttl:      ttl,
		required: required,
		maxWait:  maxWait,
		meta:     make(map[Symbol]InstrumentMeta),
		scales:   make(map[Symbol]*scaleState),
	}
}

// Get returns cached InstrumentMeta for symbol, refreshing from the venue
// if the cached entry is absent or older than the TTL.
func (c *InstrumentCache) Get(ctx context.Context, symbol Symbol) (InstrumentMeta, error) {
	c.mu.RLock()
	m, ok := c.meta[symbol]
	c.mu.RUnlock()
	if ok && time.Since(m.FetchedAt) < c.ttl {
		return m, nil
	}

	fresh, err := c.fetcher.FetchInstrumentMeta(ctx, symbol)
	if err != nil {
		if ok {
			// Stale-but-present beats erroring out on a transient refresh
			// failure; callers that need freshness check FetchedAt.
			return m, nil
		}
		return InstrumentMeta{}, err
	}
	fresh.FetchedAt = time.Now()

	c.mu.Lock()
	c.meta[symbol] = fresh
	c.mu.Unlock()
	return fresh, nil
}

// ObserveScale records a ticker price observation's implied decimal scale
// (number of fractional digits) for readiness tracking.
func (c *InstrumentCache) ObserveScale(symbol Symbol, price decimal.Decimal, now time.Time) {
	scale := -price.Exponent()

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.scales[symbol]
	if !ok {
		s = &scaleState{waitStart: now}
		c.scales[symbol] = s
	}
	if s.lastScale == scale {
		s.agreeCount++
	} else {
		s.lastScale = scale
		s.agreeCount = 1
	}
	if s.agreeCount >= c.required || now.Sub(s.waitStart) >= c.maxWait {
		s.ready = true
	}
}

// IsPriceScaleReady reports whether symbol has accumulated enough agreeing
// scale observations (or waited long enough) to be trusted by consumers
// such as PriceGuard and Strategy's OPEN gate.
func (c *InstrumentCache) IsPriceScaleReady(symbol Symbol) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scales[symbol]
	return ok && s.ready
}
