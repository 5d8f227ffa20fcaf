package oms

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

const epsilon = "0.00000001"

var epsilonQty = decimal.RequireFromString(epsilon)

// AuditSink receives order lifecycle and fill records for append-only
// persistence (spec §6's trade_log/order_log artifacts). OMS never reads
// its own audit trail back, so a minimal write-only interface avoids an
// import cycle with internal/audit.
type AuditSink interface {
	LogOrder(symbol exchange.Symbol, side exchange.Side, typ exchange.OrderType, qty, price decimal.Decimal, status, clientOrderID string)
	LogFill(symbol exchange.Symbol, side exchange.Side, qty, price decimal.Decimal, clientOrderID, exchangeOrderID string)
}

// noopSink discards everything; used when the caller doesn't wire a real
// sink (e.g. in unit tests).
type noopSink struct{}

func (noopSink) LogOrder(exchange.Symbol, exchange.Side, exchange.OrderType, decimal.Decimal, decimal.Decimal, string, string) {
}
func (noopSink) LogFill(exchange.Symbol, exchange.Side, decimal.Decimal, decimal.Decimal, string, string) {
}

// Engine is the Order Management Engine (spec §4.D). It owns every
// ManagedOrder for its full lifetime; the Gateway holds no durable order
// state.
type Engine struct {
	gateway    exchange.Gateway
	statusMap  StatusMap
	cfg        Config
	logger     *slog.Logger
	audit      AuditSink
	store      *orderStore
	rejectWin  *rejectWindow
	cidCounter uint64

	// lastPrivateWSTs reports the timestamp of the most recent private WS
	// event, used by the WS-staleness submit gate. Defaults to "always
	// live" (core.Now) when nil, which callers override by construction.
	lastPrivateWSTs func() time.Time
}

// New constructs an Engine. lastPrivateWSTs may be nil to disable the
// WS-staleness gate (e.g. in the paper/backtest harness, which has no WS).
func New(gateway exchange.Gateway, statusMap StatusMap, cfg Config, audit AuditSink, lastPrivateWSTs func() time.Time, logger *slog.Logger) *Engine {
	if audit == nil {
		audit = noopSink{}
	}
	if lastPrivateWSTs == nil {
		lastPrivateWSTs = func() time.Time { return core.Now() }
	}
	return &Engine{
		gateway:         gateway,
		statusMap:       statusMap,
		cfg:             cfg,
		logger:          logger,
		audit:           audit,
		store:           newOrderStore(),
		rejectWin:       newRejectWindow(cfg.RejectBurstThreshold, cfg.RejectBurstWindow, cfg.SymbolCooldown),
		lastPrivateWSTs: lastPrivateWSTs,
	}
}

// newClientOrderID mints a short, venue-safe id when the caller didn't
// supply one.
func (e *Engine) newClientOrderID() string {
	n := atomic.AddUint64(&e.cidCounter, 1)
	return fmt.Sprintf("fb-%d-%s", n, uuid.NewString()[:8])
}

// Submit places req through the gateway, enforcing idempotency, the
// WS-liveness gate, and the reject-burst cooldown (spec §4.D submit()).
func (e *Engine) Submit(ctx context.Context, req exchange.OrderRequest) (ManagedOrder, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = e.newClientOrderID()
	}

	if e.store.isInflight(req.ClientOrderID) {
		return ManagedOrder{}, core.New(core.RiskBreach, "duplicate_client_order_id")
	}

	now := core.Now()
	if e.cfg.WsStaleBlockMS > 0 {
		if now.Sub(e.lastPrivateWSTs()).Milliseconds() > e.cfg.WsStaleBlockMS {
			return ManagedOrder{}, core.New(core.WsStale, "private ws stale at submit time")
		}
	}

	if e.rejectWin.inCooldown(req.Symbol, now) {
		return ManagedOrder{}, core.New(core.RiskBreach, fmt.Sprintf("symbol %s in reject-burst cooldown", req.Symbol))
	}

	e.store.markInflight(req.ClientOrderID)
	order, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		e.store.clearInflight(req.ClientOrderID)
		e.audit.LogOrder(req.Symbol, req.Side, req.Type, req.Qty, req.Price, "reject", req.ClientOrderID)
		return ManagedOrder{}, err
	}

	managed := &ManagedOrder{
		Req:             req,
		State:           exchange.StateSent,
		SentAt:          now,
		ExchangeOrderID: order.OrderID,
	}
	e.store.put(req.ClientOrderID, managed, true)
	e.audit.LogOrder(req.Symbol, req.Side, req.Type, req.Qty, req.Price, "new", req.ClientOrderID)
	return managed.snapshot(), nil
}

// SubmitHedge places a market IOC order sized to close delta_to_neutral
// (spec §4.D submit_hedge()): buy when delta is positive, sell when
// negative, a no-op when already neutral.
func (e *Engine) SubmitHedge(ctx context.Context, symbol exchange.Symbol, deltaToNeutral decimal.Decimal) error {
	if deltaToNeutral.IsZero() {
		e.logger.Info("hedge: delta already neutral", "symbol", symbol)
		return nil
	}
	side := exchange.SideSell
	if deltaToNeutral.GreaterThan(decimal.Zero) {
		side = exchange.SideBuy
	}
	_, err := e.Submit(ctx, exchange.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        exchange.OrderTypeMarket,
		Qty:         deltaToNeutral.Abs(),
		TimeInForce: exchange.TimeInForceIOC,
		ReduceOnly:  false,
		PostOnly:    false,
	})
	return err
}

// submitChild places a resend/hedge child order carrying the parent's
// reduce_only flag, with id "{parent}-r{retries+1}".
func (e *Engine) submitChild(ctx context.Context, parentID string, parent ManagedOrder, qty decimal.Decimal) {
	childID := fmt.Sprintf("%s-r%d", parentID, parent.Retries+1)
	req := exchange.OrderRequest{
		Symbol:        parent.Req.Symbol,
		Side:          parent.Req.Side,
		Type:          exchange.OrderTypeMarket,
		Qty:           qty,
		TimeInForce:   exchange.TimeInForceIOC,
		ReduceOnly:    parent.Req.ReduceOnly,
		ClientOrderID: childID,
	}
	if _, err := e.Submit(ctx, req); err != nil {
		e.logger.Warn("resend child order failed", "parent", parentID, "child", childID, "err", err)
		return
	}
	if m, ok := e.store.get(parentID); ok {
		e.store.mu.Lock()
		m.Retries++
		e.store.mu.Unlock()
	}
}

// Cancel resolves a ManagedOrder by its client order id and cancels it
// through the gateway. Idempotent: a cancel on an already-terminal order
// is treated as success without a second gateway call.
func (e *Engine) Cancel(ctx context.Context, clientOrderID string) error {
	m, ok := e.store.get(clientOrderID)
	if !ok {
		return core.New(core.InvalidRequest, "unknown client_order_id")
	}
	if m.State.Terminal() {
		return nil
	}
	if err := e.gateway.CancelOrder(ctx, m.Req.Symbol, m.ExchangeOrderID, clientOrderID); err != nil {
		return err
	}
	e.transitionTerminal(clientOrderID, exchange.StateCanceled)
	e.audit.LogOrder(m.Req.Symbol, m.Req.Side, m.Req.Type, m.Req.Qty, m.Req.Price, "canceled", clientOrderID)
	return nil
}

func (e *Engine) transitionTerminal(id string, state exchange.OrderLifecycleState) {
	e.store.mu.Lock()
	if m, ok := e.store.orders[id]; ok {
		m.State = state
	}
	e.store.mu.Unlock()
	e.store.clearInflight(id)
}

// OnExecutionEvent applies an inbound ExecutionEvent (spec §4.D
// on_execution_event): out-of-order events are dropped, filled_qty is
// monotonically advanced, and a PARTIALLY_FILLED order with remaining
// quantity spawns a resend child IOC market once retries remain.
func (e *Engine) OnExecutionEvent(ctx context.Context, evt exchange.ExecutionEvent) {
	m, ok := e.store.get(evt.ClientOrderID)
	if !ok {
		e.logger.Debug("execution event for unknown order", "client_order_id", evt.ClientOrderID)
		return
	}

	e.store.mu.Lock()
	if evt.UpdatedAtMS < m.LastEventTSMS {
		e.store.mu.Unlock()
		return // stale event, silently dropped per ordering guard
	}
	m.LastEventTSMS = evt.UpdatedAtMS
	if evt.FilledQty.GreaterThan(m.FilledQty) {
		m.FilledQty = evt.FilledQty
	}
	if !evt.AvgFillPrice.IsZero() {
		m.AvgPrice = evt.AvgFillPrice
	}
	newState := e.statusMap.Resolve(evt.Status)
	m.State = newState
	remaining := m.Remaining()
	retries := m.Retries
	maxRetries := e.cfg.MaxRetries
	symbol := m.Req.Symbol
	side := m.Req.Side
	typ := m.Req.Type
	lastFillQty := evt.LastFillQty
	lastFillPrice := evt.LastFillPrice
	exchangeOrderID := m.ExchangeOrderID
	id := evt.ClientOrderID
	e.store.mu.Unlock()

	if lastFillQty.GreaterThan(decimal.Zero) {
		e.audit.LogFill(symbol, side, lastFillQty, lastFillPrice, id, exchangeOrderID)
	}

	if newState == exchange.StateRejected {
		e.rejectWin.recordReject(symbol, core.Now())
	}

	if newState == exchange.StatePartiallyFilled && remaining.GreaterThan(epsilonQty) {
		if retries < maxRetries {
			e.submitChild(ctx, id, *m, remaining)
		} else {
			e.logger.Warn("giving up on partial fill after max retries", "client_order_id", id, "remaining", remaining)
		}
	}

	_ = typ
	if newState.Terminal() {
		e.store.clearInflight(id)
	}
}

// ProcessTimeouts scans non-terminal orders for ones whose SentAt is older
// than OrderTimeoutSec, best-effort cancels them, and resends an IOC
// market for any unfilled remainder if retries remain (spec §4.D
// process_timeouts).
func (e *Engine) ProcessTimeouts(ctx context.Context) {
	now := core.Now()
	for id, m := range e.store.snapshotNonTerminal() {
		if now.Sub(m.SentAt) <= e.cfg.OrderTimeoutSec {
			continue
		}
		if err := e.gateway.CancelOrder(ctx, m.Req.Symbol, m.ExchangeOrderID, id); err != nil {
			e.logger.Warn("timeout cancel failed", "client_order_id", id, "err", err)
		}
		e.transitionTerminal(id, exchange.StateCanceled)
		e.audit.LogOrder(m.Req.Symbol, m.Req.Side, m.Req.Type, m.Req.Qty, m.Req.Price, "canceled", id)

		remaining := m.Remaining()
		if remaining.GreaterThan(epsilonQty) && m.Retries < e.cfg.MaxRetries {
			e.submitChild(ctx, id, m, remaining)
		}
	}
}

// ReconcileInflightOpenOrders fetches open orders for symbols and inserts
// their client ids into the inflight set, blocking duplicate submission
// until each reaches a terminal state. Called at startup and after every
// private WS reconnect (spec §4.D).
func (e *Engine) ReconcileInflightOpenOrders(ctx context.Context, symbols []exchange.Symbol) {
	for _, sym := range symbols {
		orders, err := e.gateway.GetOpenOrders(ctx, sym)
		if err != nil {
			e.logger.Warn("reconcile: get_open_orders failed", "symbol", sym, "err", err)
			continue
		}
		for _, o := range orders {
			if o.ClientOrderID == "" {
				continue
			}
			if _, ok := e.store.get(o.ClientOrderID); !ok {
				e.store.put(o.ClientOrderID, &ManagedOrder{
					Req:             exchange.OrderRequest{Symbol: o.Symbol, ClientOrderID: o.ClientOrderID},
					State:           e.statusMap.Resolve(o.Status),
					ExchangeOrderID: o.OrderID,
					FilledQty:       o.FilledQty,
					AvgPrice:        o.AvgFillPrice,
					SentAt:          core.Now(),
				}, true)
			} else {
				e.store.markInflight(o.ClientOrderID)
			}
		}
	}
}

// MaintainPostonlyOrders re-prices every open PostOnly limit order whose
// distance from mid exceeds ChaseMinRepriceBps, subject to per-order
// amend-rate limits (spec §4.D maintain_postonly_orders).
func (e *Engine) MaintainPostonlyOrders(ctx context.Context, symbols []exchange.Symbol) {
	if !e.cfg.ChaseEnabled {
		return
	}
	wanted := make(map[exchange.Symbol]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}
	now := core.Now()

	for id, m := range e.store.snapshotNonTerminal() {
		if m.Req.Type != exchange.OrderTypeLimit || m.Req.TimeInForce != exchange.TimeInForcePostOnly {
			continue
		}
		if !wanted[m.Req.Symbol] {
			continue
		}
		bbo, err := e.gateway.GetTicker(ctx, m.Req.Symbol)
		if err != nil || bbo.BidPrice.IsZero() || bbo.AskPrice.IsZero() {
			continue
		}
		mid := bbo.Mid()
		if mid.IsZero() {
			continue
		}
		devBps := m.Req.Price.Sub(mid).Abs().Div(mid).Mul(decimal.NewFromInt(10000))
		if devBps.LessThan(e.cfg.ChaseMinRepriceBps) {
			continue
		}
		if !e.allowAmend(id, &m, now) {
			continue
		}

		var desired decimal.Decimal
		if m.Req.Side == exchange.SideBuy {
			desired = bbo.AskPrice
		} else {
			desired = bbo.BidPrice
		}
		if _, err := e.gateway.AmendOrder(ctx, m.Req.Symbol, m.ExchangeOrderID, id, &desired, nil); err != nil {
			e.logger.Warn("postonly chase amend failed", "client_order_id", id, "err", err)
			continue
		}
		e.recordAmend(id, now)
	}
}

func (e *Engine) allowAmend(id string, m *ManagedOrder, now time.Time) bool {
	if now.Sub(m.LastAmendAt).Milliseconds() < e.cfg.ChaseIntervalMS {
		return false
	}
	e.store.mu.RLock()
	stored, ok := e.store.orders[id]
	e.store.mu.RUnlock()
	if !ok {
		return false
	}
	if now.Sub(stored.AmendWindowFrom) > time.Minute {
		return true
	}
	return stored.AmendsThisMin < e.cfg.ChaseMaxAmendsPerMin
}

func (e *Engine) recordAmend(id string, now time.Time) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	m, ok := e.store.orders[id]
	if !ok {
		return
	}
	if now.Sub(m.AmendWindowFrom) > time.Minute {
		m.AmendWindowFrom = now
		m.AmendsThisMin = 0
	}
	m.AmendsThisMin++
	m.LastAmendAt = now
}

// Get returns a snapshot of one managed order by client id.
func (e *Engine) Get(clientOrderID string) (ManagedOrder, bool) {
	m, ok := e.store.get(clientOrderID)
	if !ok {
		return ManagedOrder{}, false
	}
	return m.snapshot(), true
}

// InflightCount returns the number of orders currently in the inflight
// set, exported for the flatten-drain shutdown path.
func (e *Engine) InflightCount() int {
	e.store.mu.RLock()
	defer e.store.mu.RUnlock()
	return len(e.store.inflight)
}

// CooldownRemaining exposes the reject-burst cooldown remaining for a
// symbol, surfaced to the ops-check row.
func (e *Engine) CooldownRemaining(symbol exchange.Symbol) time.Duration {
	return e.rejectWin.cooldownRemaining(symbol, core.Now())
}

// Drain waits for every inflight order to reach a terminal state, polling
// every 200ms, and force-cancels whatever remains once timeout elapses
// (spec §4.J: "Flatten-drain has a hard timeout (~20s) after which it
// force-cancels outstanding orders"). Intended to run immediately before
// Strategy.FlattenAll on shutdown with flatten_on_exit, so the reduce-only
// closes it submits aren't racing still-open entries.
func (e *Engine) Drain(ctx context.Context, timeout time.Duration) {
	deadline := core.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
waitLoop:
	for e.InflightCount() > 0 && core.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break waitLoop
		case <-ticker.C:
		}
	}
	if e.InflightCount() == 0 {
		return
	}
	for id := range e.store.snapshotNonTerminal() {
		if err := e.Cancel(ctx, id); err != nil {
			e.logger.Warn("drain: force-cancel failed", "client_order_id", id, "err", err)
		}
	}
}
