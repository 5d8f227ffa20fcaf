// Package paper implements the Paper Exchange (spec §4.E): an in-memory
// fill simulator that satisfies exchange.Gateway so the OMS and Strategy
// packages drive it exactly as they drive the live venue client.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// DataSource supplies market data (ticker/funding) the paper exchange
// doesn't simulate itself; a live exchange.Gateway or a backtest tick feed
// can both serve as one.
type DataSource interface {
	GetTicker(ctx context.Context, symbol exchange.Symbol) (exchange.BBO, error)
	GetFundingInfo(ctx context.Context, symbol exchange.Symbol) (exchange.FundingInfo, error)
	GetInstrumentMeta(ctx context.Context, symbol exchange.Symbol) (exchange.InstrumentMeta, error)
}

// ExecutionSink receives synthetic fill/cancel events, mirroring the
// Python fill simulator's bound OMS callback (bind_oms).
type ExecutionSink interface {
	OnExecutionEvent(ctx context.Context, evt exchange.ExecutionEvent)
}

type paperOrder struct {
	orderID   string
	clientID  string
	req       exchange.OrderRequest
	status    exchange.OrderLifecycleState
	filledQty decimal.Decimal
	avgPrice  decimal.Decimal
}

// Exchange is the paper fill simulator. It holds its own balances,
// positions and local order book, and emits ExecutionEvents exactly as a
// live venue would, but synchronously and without network involved.
type Exchange struct {
	data DataSource
	oms  ExecutionSink

	mu         sync.Mutex
	idSeq      int
	bbo        map[exchange.Symbol]exchange.BBO
	lastPrice  map[exchange.Symbol]decimal.Decimal
	ordersByID map[string]*paperOrder
	ordersByCl map[string]*paperOrder
	balances   map[string]*exchange.Balance
	positions  []*exchange.Position
}

// New constructs a paper Exchange seeded with initialUSDT available
// balance.
func New(data DataSource, initialUSDT decimal.Decimal) *Exchange {
	return &Exchange{
		data:       data,
		bbo:        make(map[exchange.Symbol]exchange.BBO),
		lastPrice:  make(map[exchange.Symbol]decimal.Decimal),
		ordersByID: make(map[string]*paperOrder),
		ordersByCl: make(map[string]*paperOrder),
		balances: map[string]*exchange.Balance{
			"USDT": {Asset: "USDT", Total: initialUSDT, Available: initialUSDT},
		},
	}
}

// BindOMS wires the execution-event sink. Called once, after both the
// OMS engine and the paper exchange exist, to resolve their constructor
// ordering cycle.
func (e *Exchange) BindOMS(sink ExecutionSink) { e.oms = sink }

// UpdateBBO feeds a public-market BBO observation into the simulator, used
// by both the live-WS-backed paper mode and the backtest replayer.
func (e *Exchange) UpdateBBO(symbol exchange.Symbol, bbo exchange.BBO) {
	e.mu.Lock()
	e.bbo[symbol] = bbo
	e.mu.Unlock()
	e.tryFillLimits(context.Background(), symbol)
}

// UpdateLastPrice feeds a public trade print, used as a last-resort price
// when no BBO is available yet.
func (e *Exchange) UpdateLastPrice(symbol exchange.Symbol, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPrice[symbol] = price
}

func (e *Exchange) GetBalances(context.Context) ([]exchange.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.Balance, 0, len(e.balances))
	for _, b := range e.balances {
		out = append(out, *b)
	}
	return out, nil
}

func (e *Exchange) GetPositions(context.Context) ([]exchange.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (e *Exchange) GetOpenOrders(_ context.Context, symbol exchange.Symbol) ([]exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []exchange.Order
	for _, po := range e.ordersByCl {
		if symbol != "" && po.req.Symbol != symbol {
			continue
		}
		out = append(out, po.toOrder())
	}
	return out, nil
}

func (po *paperOrder) toOrder() exchange.Order {
	return exchange.Order{
		Symbol:        po.req.Symbol,
		OrderID:       po.orderID,
		ClientOrderID: po.clientID,
		Status:        string(po.status),
		FilledQty:     po.filledQty,
		AvgFillPrice:  po.avgPrice,
	}
}

func (e *Exchange) GetTicker(ctx context.Context, symbol exchange.Symbol) (exchange.BBO, error) {
	e.mu.Lock()
	bbo, ok := e.bbo[symbol]
	e.mu.Unlock()
	if ok {
		return bbo, nil
	}
	if e.data != nil {
		return e.data.GetTicker(ctx, symbol)
	}
	return exchange.BBO{}, core.New(core.DataError, fmt.Sprintf("no ticker available for %s", symbol))
}

func (e *Exchange) GetFundingInfo(ctx context.Context, symbol exchange.Symbol) (exchange.FundingInfo, error) {
	if e.data == nil {
		return exchange.FundingInfo{}, core.New(core.DataError, "no funding data source configured")
	}
	return e.data.GetFundingInfo(ctx, symbol)
}

func (e *Exchange) GetInstrumentMeta(ctx context.Context, symbol exchange.Symbol) (exchange.InstrumentMeta, error) {
	if e.data == nil {
		return exchange.InstrumentMeta{}, core.New(core.DataError, "no instrument data source configured")
	}
	return e.data.GetInstrumentMeta(ctx, symbol)
}

func (e *Exchange) SubscribePublic(context.Context, []exchange.Symbol) (<-chan exchange.BBO, error) {
	return nil, core.New(core.InvalidRequest, "paper exchange has no public WS feed; feed it via UpdateBBO")
}

func (e *Exchange) SubscribePrivate(context.Context) (<-chan exchange.ExecutionEvent, error) {
	return nil, core.New(core.InvalidRequest, "paper exchange emits fills via a bound ExecutionSink, not a channel")
}

// PlaceOrder creates a local order and fills it immediately if it's a
// market order or a limit order that already crosses the book.
func (e *Exchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	e.mu.Lock()
	e.idSeq++
	oid := fmt.Sprintf("PAPER-%d", e.idSeq)
	cid := req.ClientOrderID
	if cid == "" {
		cid = oid
	}
	po := &paperOrder{orderID: oid, clientID: cid, req: req, status: exchange.StateSent}
	e.ordersByID[oid] = po
	e.ordersByCl[cid] = po
	e.mu.Unlock()

	switch req.Type {
	case exchange.OrderTypeMarket:
		price := e.priceForMarket(req.Symbol, req.Side)
		e.fillNow(ctx, po, req.Qty, price)
		return po.toOrder(), nil
	case exchange.OrderTypeLimit:
		if e.isLimitCrossing(req) {
			price := e.priceForLimitFill(req.Symbol, req.Side)
			e.fillNow(ctx, po, req.Qty, price)
		}
		return po.toOrder(), nil
	default:
		return po.toOrder(), nil
	}
}

func (e *Exchange) CancelOrder(ctx context.Context, _ exchange.Symbol, orderID, clientOrderID string) error {
	e.mu.Lock()
	po := e.lookup(orderID, clientOrderID)
	if po == nil || po.status.Terminal() {
		e.mu.Unlock()
		return nil
	}
	po.status = exchange.StateCanceled
	snapshot := *po
	e.mu.Unlock()

	if e.oms != nil {
		e.oms.OnExecutionEvent(ctx, exchange.ExecutionEvent{
			Symbol:        snapshot.req.Symbol,
			OrderID:       snapshot.orderID,
			ClientOrderID: snapshot.clientID,
			Status:        string(exchange.StateCanceled),
			FilledQty:     snapshot.filledQty,
			AvgFillPrice:  snapshot.avgPrice,
			UpdatedAtMS:   core.MonotonicMS(),
		})
	}
	return nil
}

func (e *Exchange) AmendOrder(_ context.Context, _ exchange.Symbol, orderID, clientOrderID string, newPrice, newQty *decimal.Decimal) (exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	po := e.lookup(orderID, clientOrderID)
	if po == nil {
		return exchange.Order{}, core.New(core.InvalidRequest, "amend target not found")
	}
	if po.status.Terminal() {
		return exchange.Order{}, core.New(core.InvalidRequest, "cannot amend a terminal order")
	}
	if newPrice != nil {
		po.req.Price = *newPrice
	}
	if newQty != nil {
		po.req.Qty = *newQty
	}
	return po.toOrder(), nil
}

func (e *Exchange) lookup(orderID, clientOrderID string) *paperOrder {
	if clientOrderID != "" {
		if po, ok := e.ordersByCl[clientOrderID]; ok {
			return po
		}
	}
	if orderID != "" {
		if po, ok := e.ordersByID[orderID]; ok {
			return po
		}
	}
	return nil
}

func (e *Exchange) isLimitCrossing(req exchange.OrderRequest) bool {
	e.mu.Lock()
	bbo, ok := e.bbo[req.Symbol]
	e.mu.Unlock()
	if !ok || bbo.BidPrice.IsZero() || bbo.AskPrice.IsZero() {
		return false
	}
	if req.Side == exchange.SideBuy {
		return req.Price.GreaterThanOrEqual(bbo.AskPrice)
	}
	return req.Price.LessThanOrEqual(bbo.BidPrice)
}

func (e *Exchange) priceForMarket(symbol exchange.Symbol, side exchange.Side) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	bbo, ok := e.bbo[symbol]
	if ok {
		if side == exchange.SideBuy && !bbo.AskPrice.IsZero() {
			return bbo.AskPrice
		}
		if side == exchange.SideSell && !bbo.BidPrice.IsZero() {
			return bbo.BidPrice
		}
		if !bbo.BidPrice.IsZero() && !bbo.AskPrice.IsZero() {
			return bbo.Mid()
		}
	}
	return e.lastPrice[symbol]
}

func (e *Exchange) priceForLimitFill(symbol exchange.Symbol, side exchange.Side) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	bbo := e.bbo[symbol]
	if side == exchange.SideBuy {
		if !bbo.AskPrice.IsZero() {
			return bbo.AskPrice
		}
	} else if !bbo.BidPrice.IsZero() {
		return bbo.BidPrice
	}
	return e.lastPrice[symbol]
}

// tryFillLimits scans symbol's resting limit orders and fills any that
// now cross the book, called after every BBO update (spec §4.E).
func (e *Exchange) tryFillLimits(ctx context.Context, symbol exchange.Symbol) {
	e.mu.Lock()
	var candidates []*paperOrder
	for _, po := range e.ordersByCl {
		if po.req.Symbol == symbol && po.status == exchange.StateSent && po.req.Type == exchange.OrderTypeLimit {
			candidates = append(candidates, po)
		}
	}
	e.mu.Unlock()

	for _, po := range candidates {
		if e.isLimitCrossing(po.req) {
			price := e.priceForLimitFill(po.req.Symbol, po.req.Side)
			e.fillNow(ctx, po, po.req.Qty, price)
		}
	}
}

// fillNow applies a fill to po, updates balances/positions, and emits the
// resulting ExecutionEvent to the bound OMS.
func (e *Exchange) fillNow(ctx context.Context, po *paperOrder, qty, price decimal.Decimal) {
	e.mu.Lock()
	if po.avgPrice.IsZero() {
		po.avgPrice = price
	} else {
		po.avgPrice = po.avgPrice.Add(price).Div(decimal.NewFromInt(2))
	}
	po.filledQty = po.filledQty.Add(qty)
	po.status = exchange.StateFilled
	snapshot := *po
	e.mu.Unlock()

	e.applyFillEffects(po.req.Symbol, po.req.Side, qty, price)

	if e.oms != nil {
		e.oms.OnExecutionEvent(ctx, exchange.ExecutionEvent{
			Symbol:        snapshot.req.Symbol,
			OrderID:       snapshot.orderID,
			ClientOrderID: snapshot.clientID,
			Status:        string(exchange.StateFilled),
			FilledQty:     snapshot.filledQty,
			AvgFillPrice:  snapshot.avgPrice,
			LastFillQty:   qty,
			LastFillPrice: price,
			UpdatedAtMS:   core.MonotonicMS(),
		})
	}
}

// applyFillEffects updates paper balances (for spot legs) or positions
// (for perp legs) after a fill.
func (e *Exchange) applyFillEffects(symbol exchange.Symbol, side exchange.Side, qty, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if symbol.IsSpot() {
		base := strings.ToUpper(string(symbol.Base()))
		notional := qty.Mul(price)
		usdtDelta := notional.Neg()
		baseDelta := qty
		if side == exchange.SideSell {
			usdtDelta = notional
			baseDelta = qty.Neg()
		}

		usdt, ok := e.balances["USDT"]
		if !ok {
			usdt = &exchange.Balance{Asset: "USDT"}
			e.balances["USDT"] = usdt
		}
		usdt.Total = usdt.Total.Add(usdtDelta)
		usdt.Available = usdt.Available.Add(usdtDelta)

		bs, ok := e.balances[base]
		if !ok {
			bs = &exchange.Balance{Asset: base}
			e.balances[base] = bs
		}
		bs.Total = bs.Total.Add(baseDelta)
		bs.Available = bs.Available.Add(baseDelta)
		return
	}

	var pos *exchange.Position
	for _, p := range e.positions {
		if p.Symbol == symbol && p.Side == side {
			pos = p
			break
		}
	}
	if pos == nil {
		pos = &exchange.Position{Symbol: symbol, Side: side}
		e.positions = append(e.positions, pos)
	}
	newSize := pos.Size.Add(qty)
	if newSize.GreaterThan(decimal.Zero) {
		if pos.Size.GreaterThan(decimal.Zero) {
			pos.EntryPrice = pos.EntryPrice.Mul(pos.Size).Add(qty.Mul(price)).Div(newSize)
		} else {
			pos.EntryPrice = price
		}
	}
	pos.Size = newSize
}

// Now is provided for callers that want the paper exchange's notion of
// wall-clock time (identical to core.Now; exported for symmetry with the
// live gateway's interface surface in tests).
func Now() time.Time { return core.Now() }
