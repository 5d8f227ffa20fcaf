package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// Holdings is the RWMutex-guarded per-symbol ledger of open basis
// positions, following the teacher's Inventory pattern
// (internal/strategy/inventory.go) generalized from a single market's
// YES/NO quantities to a symbol-keyed map of exchange.Holding two-leg
// entries. Grounded on `original_source/bot/strategy/funding_basis/
// engine.py`'s `_HoldingEntry`/`_Holdings`.
type Holdings struct {
	mu   sync.RWMutex
	byID map[exchange.Symbol]*exchange.Holding
}

// NewHoldings constructs an empty ledger.
func NewHoldings() *Holdings {
	return &Holdings{byID: make(map[exchange.Symbol]*exchange.Holding)}
}

// Get returns a snapshot copy of a symbol's holding and whether it is
// currently open (either leg non-zero).
func (h *Holdings) Get(symbol exchange.Symbol) (exchange.Holding, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.byID[symbol]
	if !ok {
		return exchange.Holding{Symbol: symbol}, false
	}
	return *entry, entry.IsOpen()
}

// UpdateOpen folds a fill's signed quantity and price into both legs,
// weighting the new entry price against any existing position the same
// way the teacher's Inventory averages fills into AvgEntryYes/AvgEntryNo.
func (h *Holdings) UpdateOpen(symbol exchange.Symbol, spotQty, spotPrice, perpQty, perpPrice decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.byID[symbol]
	if !ok {
		entry = &exchange.Holding{Symbol: symbol, OpenedAt: time.Now()}
		h.byID[symbol] = entry
	}

	entry.SpotAvgPrice = weightedAvgPrice(entry.SpotQty, entry.SpotAvgPrice, spotQty, spotPrice)
	entry.SpotQty = entry.SpotQty.Add(spotQty)
	entry.PerpAvgPrice = weightedAvgPrice(entry.PerpQty, entry.PerpAvgPrice, perpQty, perpPrice)
	entry.PerpQty = entry.PerpQty.Add(perpQty)
	entry.LastFundingAt = time.Now()
}

// weightedAvgPrice folds an additional signed fill into a running
// notional-weighted average price. When the resulting quantity is zero the
// average is zero; when its sign flips relative to the prior quantity, the
// average resets to the incoming fill price rather than producing a
// meaningless average.
func weightedAvgPrice(curQty, curPrice, addQty, addPrice decimal.Decimal) decimal.Decimal {
	newQty := curQty.Add(addQty)
	if newQty.IsZero() {
		return decimal.Zero
	}
	if curQty.Sign() != 0 && newQty.Sign() != curQty.Sign() {
		return addPrice
	}
	totalCost := curPrice.Mul(curQty).Add(addPrice.Mul(addQty))
	return totalCost.Div(newQty)
}

// Clear removes a symbol's holding entirely, used once a position is fully
// closed.
func (h *Holdings) Clear(symbol exchange.Symbol) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byID, symbol)
}

// IncrementHoldPeriods bumps the number of funding periods a symbol's
// position has survived. Evaluate does not read HoldPeriods, so the count
// never holds back a close.
func (h *Holdings) IncrementHoldPeriods(symbol exchange.Symbol) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.byID[symbol]; ok {
		entry.HoldPeriods++
	}
}

// UsedTotalNotional sums gross notional across every open holding.
func (h *Holdings) UsedTotalNotional() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := decimal.Zero
	for _, entry := range h.byID {
		total = total.Add(entry.TotalNotional())
	}
	return total
}

// UsedSymbolNotional returns one symbol's gross notional, zero if unheld.
func (h *Holdings) UsedSymbolNotional(symbol exchange.Symbol) decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.byID[symbol]
	if !ok {
		return decimal.Zero
	}
	return entry.TotalNotional()
}

// Symbols returns every symbol currently carrying an open holding.
func (h *Holdings) Symbols() []exchange.Symbol {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]exchange.Symbol, 0, len(h.byID))
	for sym, entry := range h.byID {
		if entry.IsOpen() {
			out = append(out, sym)
		}
	}
	return out
}

// NetExposure sums the absolute net delta across all open holdings, wired
// as the Risk Manager's flat-probe (risk.Manager.SetFlatProbe).
func (h *Holdings) NetExposure() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := decimal.Zero
	for _, entry := range h.byID {
		total = total.Add(entry.NetDeltaBase().Abs())
	}
	return total
}

// Snapshot returns a value copy of every open holding, keyed by symbol, for
// store.Store to persist across restarts.
func (h *Holdings) Snapshot() map[exchange.Symbol]exchange.Holding {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[exchange.Symbol]exchange.Holding, len(h.byID))
	for sym, entry := range h.byID {
		out[sym] = *entry
	}
	return out
}

// Restore replaces the ledger's contents with the given snapshot, used on
// startup to recover holdings persisted by store.Store.
func (h *Holdings) Restore(snapshot map[exchange.Symbol]exchange.Holding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID = make(map[exchange.Symbol]*exchange.Holding, len(snapshot))
	for sym, entry := range snapshot {
		cp := entry
		h.byID[sym] = &cp
	}
}
