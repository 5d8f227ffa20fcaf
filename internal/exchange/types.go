// Package exchange defines the venue-agnostic gateway contract, its shared
// data types, and the concrete REST/WS client plus supporting caches
// (instrument metadata, BBO, anchor-price guard) that implement it.
package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol identifies a tradable instrument, e.g. "BTCUSDT" (perp) or
// "BTCUSDT_SPOT" (spot leg). The _SPOT suffix convention matches the Python
// reference's CostModel._is_spot.
type Symbol string

// IsSpot reports whether sym names a spot instrument.
func (sym Symbol) IsSpot() bool {
	return strings.HasSuffix(string(sym), "_SPOT")
}

// Base returns the symbol with any _SPOT suffix stripped, so the spot and
// perp legs of the same underlying compare equal.
func (sym Symbol) Base() string {
	return strings.TrimSuffix(string(sym), "_SPOT")
}

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce mirrors the venue's supported TIF values.
type TimeInForce string

const (
	TimeInForceGTC      TimeInForce = "GTC"
	TimeInForceIOC      TimeInForce = "IOC"
	TimeInForcePostOnly TimeInForce = "PostOnly"
)

// Balance is a single-asset wallet balance.
type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Position is an open perp (or margin spot) position.
type Position struct {
	Symbol        Symbol
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// InstrumentMeta is the venue's tick/step/minimum metadata for a symbol,
// refreshed on a TTL by instrumentcache.go.
type InstrumentMeta struct {
	Symbol      Symbol
	PriceTick   decimal.Decimal
	QtyStep     decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	FetchedAt   time.Time
}

// BBO is a best-bid/best-offer snapshot for one symbol.
type BBO struct {
	Symbol    Symbol
	BidPrice  decimal.Decimal
	BidSize   decimal.Decimal
	AskPrice  decimal.Decimal
	AskSize   decimal.Decimal
	UpdatedAt time.Time
}

// Mid returns the midpoint of bid and ask.
func (b BBO) Mid() decimal.Decimal {
	return b.BidPrice.Add(b.AskPrice).Div(decimal.NewFromInt(2))
}

// SpreadBps returns the bid-ask spread in basis points of the mid.
func (b BBO) SpreadBps() decimal.Decimal {
	mid := b.Mid()
	if mid.IsZero() {
		return decimal.Zero
	}
	return b.AskPrice.Sub(b.BidPrice).Div(mid).Mul(decimal.NewFromInt(10000))
}

// PriceGuardStatus is the anchor-price plausibility state machine's status.
type PriceGuardStatus string

const (
	PriceGuardNoAnchor PriceGuardStatus = "NO_ANCHOR"
	PriceGuardReady    PriceGuardStatus = "READY"
	PriceGuardFrozen   PriceGuardStatus = "FROZEN"
)

// PriceGuardState is the per-symbol anchor-price guard's current state.
type PriceGuardState struct {
	Symbol       Symbol
	Status       PriceGuardStatus
	AnchorPrice  decimal.Decimal
	LastUpdated  time.Time
	FrozenReason string
}

// OrderRequest is what Strategy/OMS hand to the Gateway to place an order.
type OrderRequest struct {
	Symbol        Symbol
	Side          Side
	Type          OrderType
	Qty           decimal.Decimal
	Price         decimal.Decimal // zero for market orders
	TimeInForce   TimeInForce
	ReduceOnly    bool
	PostOnly      bool
	ClientOrderID string
}

// Order is the venue's view of a previously submitted order.
type Order struct {
	Symbol        Symbol
	OrderID       string
	ClientOrderID string
	Status        string
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
}

// OrderLifecycleState is the OMS's internal view of a managed order, richer
// than the venue's raw Status string.
type OrderLifecycleState string

const (
	StateNew             OrderLifecycleState = "NEW"
	StateSent            OrderLifecycleState = "SENT"
	StatePartiallyFilled OrderLifecycleState = "PARTIALLY_FILLED"
	StateFilled          OrderLifecycleState = "FILLED"
	StateCanceled        OrderLifecycleState = "CANCELED"
	StateRejected        OrderLifecycleState = "REJECTED"
)

// Terminal reports whether no further lifecycle events are expected.
func (s OrderLifecycleState) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected:
		return true
	default:
		return false
	}
}

// ExecutionEvent is a normalized fill/lifecycle notification delivered from
// the Gateway (live WS or PaperExchange) to the OMS.
type ExecutionEvent struct {
	Symbol        Symbol
	OrderID       string
	ClientOrderID string
	Status        string
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	LastFillQty   decimal.Decimal
	LastFillPrice decimal.Decimal
	UpdatedAtMS   int64 // monotonic venue sequence/timestamp for ordering guard
}

// FundingInfo is the venue's current and predicted funding rate for a perp
// symbol.
type FundingInfo struct {
	Symbol              Symbol
	CurrentRate         decimal.Decimal
	PredictedRate       decimal.Decimal
	NextFundingTime     time.Time
	FundingIntervalHour decimal.Decimal
}

// Holding is Strategy's running view of one symbol's open basis position:
// the spot leg, the perp leg (both signed: short perp is negative), and
// their weighted-average entry prices.
type Holding struct {
	Symbol        Symbol
	SpotQty       decimal.Decimal
	SpotAvgPrice  decimal.Decimal
	PerpQty       decimal.Decimal
	PerpAvgPrice  decimal.Decimal
	OpenedAt      time.Time
	LastFundingAt time.Time
	HoldPeriods   int
}

// NetDeltaBase returns the signed base-asset delta between the spot and
// perp legs; zero means perfectly delta-neutral.
func (h Holding) NetDeltaBase() decimal.Decimal {
	return h.SpotQty.Add(h.PerpQty)
}

// TotalNotional returns the gross (absolute) notional across both legs.
func (h Holding) TotalNotional() decimal.Decimal {
	return h.SpotQty.Abs().Mul(h.SpotAvgPrice).Add(h.PerpQty.Abs().Mul(h.PerpAvgPrice))
}

// DominantBaseQty returns the larger-magnitude leg's quantity, used as the
// reference size when computing a close or rebalance order.
func (h Holding) DominantBaseQty() decimal.Decimal {
	if h.SpotQty.Abs().GreaterThanOrEqual(h.PerpQty.Abs()) {
		return h.SpotQty.Abs()
	}
	return h.PerpQty.Abs()
}

// IsOpen reports whether either leg carries a non-zero quantity.
func (h Holding) IsOpen() bool {
	return !h.SpotQty.IsZero() || !h.PerpQty.IsZero()
}

// DecisionAction is Strategy's verdict for a symbol on one evaluation tick.
type DecisionAction string

const (
	DecisionSkip  DecisionAction = "SKIP"
	DecisionOpen  DecisionAction = "OPEN"
	DecisionHedge DecisionAction = "HEDGE"
	DecisionClose DecisionAction = "CLOSE"
)

// Decision is Strategy's per-symbol evaluation result.
type Decision struct {
	Action        DecisionAction
	Symbol        Symbol
	Reason        string
	PredictedAPR  decimal.Decimal
	Notional      decimal.Decimal
	PerpSide      Side
	SpotSide      Side
	DeltaToNeutral decimal.Decimal
}
