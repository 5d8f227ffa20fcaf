package audit

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/cost"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// Direction is the side a FillRoundTrip was opened on.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

var accEpsilon = decimal.RequireFromString("0.00000001")

// FillRoundTrip is a single-instrument entry-to-exit round trip derived
// purely from a stream of fills (spec §4.I), distinct from
// backtest.Result's two-leg combined RoundTrip which is built from a
// position walk instead.
type FillRoundTrip struct {
	Symbol     exchange.Symbol
	Direction  Direction
	Qty        decimal.Decimal
	EntryTS    time.Time
	ExitTS     time.Time
	HoldSecs   float64
	EntryAvgPx decimal.Decimal
	ExitAvgPx  decimal.Decimal
	GrossPnL   decimal.Decimal
	FeesOpen   decimal.Decimal
	FeesClose  decimal.Decimal
	NetPnL     decimal.Decimal
}

// openLeg is one symbol's in-progress round trip: an open side plus
// whatever has been realised against it so far.
type openLeg struct {
	sign int // +1 long, -1 short

	entryQty      decimal.Decimal
	entryNotional decimal.Decimal
	entryTS       time.Time
	feesOpen      decimal.Decimal

	exitQty      decimal.Decimal
	exitNotional decimal.Decimal
	feesClose    decimal.Decimal
}

func (l *openLeg) remaining() decimal.Decimal {
	return l.entryQty.Sub(l.exitQty)
}

// FillAccumulator derives completed FillRoundTrips from a raw stream of
// fills, one state machine per symbol (spec §4.I): same-sign fills widen
// the open leg's weighted-average entry; opposite-sign fills realise
// against it; a full close emits a round trip and resets; a fill that
// overshoots the open quantity flips direction, opening a fresh round with
// the remainder priced at that same fill.
type FillAccumulator struct {
	mu        sync.Mutex
	costModel cost.Model
	legs      map[exchange.Symbol]*openLeg
	trips     []FillRoundTrip
	onTrip    func(FillRoundTrip)
}

// NewFillAccumulator constructs an accumulator. onTrip is invoked
// synchronously (under the accumulator's lock released first) each time a
// round trip closes; pass nil to only retain them for Trips().
func NewFillAccumulator(costModel cost.Model, onTrip func(FillRoundTrip)) *FillAccumulator {
	return &FillAccumulator{
		costModel: costModel,
		legs:      make(map[exchange.Symbol]*openLeg),
		onTrip:    onTrip,
	}
}

// OnFill folds one fill into the accumulator's per-symbol state, emitting
// a completed FillRoundTrip (via onTrip) whenever the open leg returns to
// flat. Safe for concurrent use.
func (a *FillAccumulator) OnFill(symbol exchange.Symbol, side exchange.Side, qty, price decimal.Decimal, ts time.Time) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}
	fillSign := -1
	if side == exchange.SideBuy {
		fillSign = 1
	}
	fee := a.costModel.TakerFee(symbol, qty, price)

	a.mu.Lock()
	leg, ok := a.legs[symbol]
	if !ok || leg.remaining().LessThanOrEqual(accEpsilon) {
		a.legs[symbol] = &openLeg{
			sign: fillSign, entryQty: qty, entryNotional: price.Mul(qty),
			entryTS: ts, feesOpen: fee,
		}
		a.mu.Unlock()
		return
	}

	if fillSign == leg.sign {
		leg.entryQty = leg.entryQty.Add(qty)
		leg.entryNotional = leg.entryNotional.Add(price.Mul(qty))
		leg.feesOpen = leg.feesOpen.Add(fee)
		a.mu.Unlock()
		return
	}

	remaining := leg.remaining()
	closeQty := decimal.Min(qty, remaining)
	feeForClose := fee
	if qty.GreaterThan(decimal.Zero) {
		feeForClose = fee.Mul(closeQty).Div(qty)
	}
	leg.exitQty = leg.exitQty.Add(closeQty)
	leg.exitNotional = leg.exitNotional.Add(price.Mul(closeQty))
	leg.feesClose = leg.feesClose.Add(feeForClose)

	if leg.remaining().GreaterThan(accEpsilon) {
		a.mu.Unlock()
		return
	}

	trip := a.buildRoundTrip(symbol, leg, ts)
	delete(a.legs, symbol)
	a.trips = append(a.trips, trip)

	remainder := qty.Sub(closeQty)
	if remainder.GreaterThan(accEpsilon) {
		remainderFee := fee.Sub(feeForClose)
		a.legs[symbol] = &openLeg{
			sign: fillSign, entryQty: remainder, entryNotional: price.Mul(remainder),
			entryTS: ts, feesOpen: remainderFee,
		}
	}
	a.mu.Unlock()

	if a.onTrip != nil {
		a.onTrip(trip)
	}
}

// Trips returns every round trip completed so far.
func (a *FillAccumulator) Trips() []FillRoundTrip {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]FillRoundTrip(nil), a.trips...)
}

func (a *FillAccumulator) buildRoundTrip(symbol exchange.Symbol, leg *openLeg, exitTS time.Time) FillRoundTrip {
	entryAvgPx := leg.entryNotional.Div(leg.entryQty)
	exitAvgPx := decimal.Zero
	if leg.exitQty.GreaterThan(decimal.Zero) {
		exitAvgPx = leg.exitNotional.Div(leg.exitQty)
	}
	direction := DirectionShort
	priceDelta := entryAvgPx.Sub(exitAvgPx)
	if leg.sign > 0 {
		direction = DirectionLong
		priceDelta = exitAvgPx.Sub(entryAvgPx)
	}
	grossPnL := priceDelta.Mul(leg.entryQty)
	return FillRoundTrip{
		Symbol:     symbol,
		Direction:  direction,
		Qty:        leg.entryQty,
		EntryTS:    leg.entryTS,
		ExitTS:     exitTS,
		HoldSecs:   exitTS.Sub(leg.entryTS).Seconds(),
		EntryAvgPx: entryAvgPx,
		ExitAvgPx:  exitAvgPx,
		GrossPnL:   grossPnL,
		FeesOpen:   leg.feesOpen,
		FeesClose:  leg.feesClose,
		NetPnL:     grossPnL.Sub(leg.feesOpen).Sub(leg.feesClose),
	}
}

// LogOrder implements oms.AuditSink's order-lifecycle half as a no-op;
// FillAccumulator only derives state from fills.
func (a *FillAccumulator) LogOrder(exchange.Symbol, exchange.Side, exchange.OrderType, decimal.Decimal, decimal.Decimal, string, string) {
}

// LogFill implements oms.AuditSink, feeding each fill into OnFill at the
// current wall-clock time.
func (a *FillAccumulator) LogFill(symbol exchange.Symbol, side exchange.Side, qty, price decimal.Decimal, clientOrderID, exchangeOrderID string) {
	a.OnFill(symbol, side, qty, price, time.Now())
}

// sink is the oms.AuditSink method set, re-declared locally so this
// package never needs to import internal/oms (which would cycle back
// through internal/oms's dependency on exchange only — this avoids any
// dependency at all).
type sink interface {
	LogOrder(symbol exchange.Symbol, side exchange.Side, typ exchange.OrderType, qty, price decimal.Decimal, status, clientOrderID string)
	LogFill(symbol exchange.Symbol, side exchange.Side, qty, price decimal.Decimal, clientOrderID, exchangeOrderID string)
}

// MultiSink fans one oms.AuditSink call out to several, so a single Engine
// can both persist the raw JSONL trail and feed the live round-trip
// accumulator from the same fill stream.
type MultiSink struct {
	sinks []sink
}

// NewMultiSink constructs a MultiSink over the given sinks, in call order.
func NewMultiSink(sinks ...sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) LogOrder(symbol exchange.Symbol, side exchange.Side, typ exchange.OrderType, qty, price decimal.Decimal, status, clientOrderID string) {
	for _, s := range m.sinks {
		s.LogOrder(symbol, side, typ, qty, price, status, clientOrderID)
	}
}

func (m *MultiSink) LogFill(symbol exchange.Symbol, side exchange.Side, qty, price decimal.Decimal, clientOrderID, exchangeOrderID string) {
	for _, s := range m.sinks {
		s.LogFill(symbol, side, qty, price, clientOrderID, exchangeOrderID)
	}
}
