package exchange

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceGuardConfig tunes the anchor-price plausibility state machine.
type PriceGuardConfig struct {
	AnchorMaxAge     time.Duration // default 5s
	FreezeStaleMax   time.Duration // default 120s
	RatioLow         decimal.Decimal // default 0.7
	RatioHigh        decimal.Decimal // default 1.3
	LastGoodBandPct  decimal.Decimal // default 0.3 (±30% of last_good_perp)
}

// DefaultPriceGuardConfig matches the spec's stated defaults.
func DefaultPriceGuardConfig() PriceGuardConfig {
	return PriceGuardConfig{
		AnchorMaxAge:    5 * time.Second,
		FreezeStaleMax:  120 * time.Second,
		RatioLow:        decimal.NewFromFloat(0.7),
		RatioHigh:       decimal.NewFromFloat(1.3),
		LastGoodBandPct: decimal.NewFromFloat(0.3),
	}
}

type priceGuardEntry struct {
	state        PriceGuardState
	lastGoodPerp decimal.Decimal
	frozenSince  time.Time
}

// PriceGuard is the per-symbol anchor-price plausibility state machine:
// NO_ANCHOR -> READY -> FROZEN -> READY/NO_ANCHOR, gating Strategy OPEN
// decisions on a trustworthy perp price.
type PriceGuard struct {
	cfg PriceGuardConfig

	mu      sync.RWMutex
	entries map[Symbol]*priceGuardEntry
}

// NewPriceGuard constructs a PriceGuard with the given config.
func NewPriceGuard(cfg PriceGuardConfig) *PriceGuard {
	return &PriceGuard{cfg: cfg, entries: make(map[Symbol]*priceGuardEntry)}
}

func (g *PriceGuard) entry(sym Symbol) *priceGuardEntry {
	e, ok := g.entries[sym]
	if !ok {
		e = &priceGuardEntry{state: PriceGuardState{Symbol: sym, Status: PriceGuardNoAnchor}}
		g.entries[sym] = e
	}
	return e
}

// Observe feeds a new (perpLast, anchor, anchorAge, scaleReady) sample for
// sym and returns the resulting state. anchor is the spot mid or index
// price; anchorAge is the time since that anchor was last updated.
func (g *PriceGuard) Observe(sym Symbol, perpLast, anchor decimal.Decimal, anchorAge time.Duration, scaleReady bool, now time.Time) PriceGuardState {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(sym)
	plausible := scaleReady && anchorAge <= g.cfg.AnchorMaxAge && g.isPlausible(e, perpLast, anchor)

	switch e.state.Status {
	case PriceGuardNoAnchor:
		if !scaleReady {
			break
		}
		if anchorAge > g.cfg.AnchorMaxAge {
			break
		}
		if plausible {
			e.state.Status = PriceGuardReady
			e.state.AnchorPrice = anchor
			e.lastGoodPerp = perpLast
			e.state.FrozenReason = ""
		} else {
			e.state.Status = PriceGuardFrozen
			e.frozenSince = now
			e.state.FrozenReason = "implausible on first observation"
		}
	case PriceGuardReady:
		if plausible {
			e.state.AnchorPrice = anchor
			e.lastGoodPerp = perpLast
		} else {
			e.state.Status = PriceGuardFrozen
			e.frozenSince = now
			e.state.FrozenReason = "perp/anchor ratio out of plausible band"
		}
	case PriceGuardFrozen:
		if plausible {
			e.state.Status = PriceGuardReady
			e.state.AnchorPrice = anchor
			e.lastGoodPerp = perpLast
			e.frozenSince = time.Time{}
			e.state.FrozenReason = ""
		} else if now.Sub(e.frozenSince) > g.cfg.FreezeStaleMax {
			e.state.Status = PriceGuardNoAnchor
			e.state.FrozenReason = "frozen beyond freeze_stale_max, anchor discarded"
		}
	}

	e.state.LastUpdated = now
	return e.state
}

func (g *PriceGuard) isPlausible(e *priceGuardEntry, perpLast, anchor decimal.Decimal) bool {
	if anchor.IsZero() {
		return false
	}
	ratio := perpLast.Div(anchor)
	if ratio.GreaterThanOrEqual(g.cfg.RatioLow) && ratio.LessThanOrEqual(g.cfg.RatioHigh) {
		return true
	}
	if e.lastGoodPerp.IsZero() {
		return false
	}
	lo := e.lastGoodPerp.Mul(decimal.NewFromInt(1).Sub(g.cfg.LastGoodBandPct))
	hi := e.lastGoodPerp.Mul(decimal.NewFromInt(1).Add(g.cfg.LastGoodBandPct))
	return perpLast.GreaterThanOrEqual(lo) && perpLast.LessThanOrEqual(hi)
}

// State returns the current state for sym without mutating it.
func (g *PriceGuard) State(sym Symbol) PriceGuardState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.entries[sym]; ok {
		return e.state
	}
	return PriceGuardState{Symbol: sym, Status: PriceGuardNoAnchor}
}
