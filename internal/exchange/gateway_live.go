package exchange

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
)

// LiveGatewayConfig bundles the knobs LiveGateway wires across its
// sub-components (spec §6 environment knobs).
type LiveGatewayConfig struct {
	Client                ClientConfig
	PublicWSURL           string
	PrivateWSURL          string
	InstrumentInfoTTL     time.Duration
	ScaleReadyRequired    int
	ScaleReadyMaxWait     time.Duration
	BBOMaxAge             time.Duration
	PriceGuard            PriceGuardConfig
	PriceDevBpsLimit      decimal.Decimal
}

// LiveGateway composes Client with InstrumentCache, BBOCache, PriceGuard
// and the public/private WS multiplexers into the full Gateway interface
// (spec §4.C). OMS/Strategy never see Client directly.
type LiveGateway struct {
	client     *Client
	instr      *InstrumentCache
	bbo        *BBOCache
	guard      *PriceGuard
	publicWS   *PublicWS
	privateWS  *PrivateWS
	devBpsLimit decimal.Decimal
	logger     *slog.Logger

	onPrivateReconnect func(ctx context.Context)
}

// NewLiveGateway wires the live venue client and its supporting caches.
// onPrivateReconnect, if non-nil, is invoked after every private WS
// (re)connect so the OMS can run reconcile_inflight_open_orders.
func NewLiveGateway(cfg LiveGatewayConfig, onPrivateReconnect func(ctx context.Context), logger *slog.Logger) *LiveGateway {
	client := NewClient(cfg.Client, logger)
	ttl := cfg.InstrumentInfoTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	required := cfg.ScaleReadyRequired
	if required <= 0 {
		required = 2
	}
	maxWait := cfg.ScaleReadyMaxWait
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	instr := NewInstrumentCache(client, ttl, required, maxWait)
	bbo := NewBBOCache(cfg.BBOMaxAge)
	guard := NewPriceGuard(cfg.PriceGuard)

	g := &LiveGateway{
		client:      client,
		instr:       instr,
		bbo:         bbo,
		guard:       guard,
		publicWS:    NewPublicWS(cfg.PublicWSURL, bbo, instr, logger),
		privateWS:   NewPrivateWS(cfg.PrivateWSURL, client.auth, onPrivateReconnect, logger),
		devBpsLimit: cfg.PriceDevBpsLimit,
		logger:      logger,
	}
	return g
}

// Client exposes the underlying REST client for callers (e.g. ops-check,
// auth preflight) that need capabilities outside the Gateway interface.
func (g *LiveGateway) Client() *Client { return g.client }

// PriceGuardState returns the anchor-price guard's current state for
// symbol, exported for ops checks per spec §4.C.
func (g *LiveGateway) PriceGuardState(symbol Symbol) PriceGuardState { return g.guard.State(symbol) }

// ObservePriceGuard feeds one (perpLast, anchor) sample into the price
// guard for symbol. Callers (typically the strategy loop) supply the
// anchor price (spot mid, or index as fallback) and its age.
func (g *LiveGateway) ObservePriceGuard(symbol Symbol, perpLast, anchor decimal.Decimal, anchorAge time.Duration, now time.Time) PriceGuardState {
	scaleReady := g.instr.IsPriceScaleReady(symbol)
	return g.guard.Observe(symbol, perpLast, anchor, anchorAge, scaleReady, now)
}

// IsPriceScaleReady reports whether symbol's price scale has converged
// (spec §4.C is_price_scale_ready).
func (g *LiveGateway) IsPriceScaleReady(symbol Symbol) bool { return g.instr.IsPriceScaleReady(symbol) }

// BBOValid reports whether symbol has a fresh, non-crossed BBO cached.
func (g *LiveGateway) BBOValid(symbol Symbol) bool { return g.bbo.Valid(symbol) }

// UpdateBBO injects a BBO sample directly into the cache, bypassing the WS
// feed. The backtest replayer feeds the Paper Exchange's own UpdateBBO,
// not this one.
func (g *LiveGateway) UpdateBBO(b BBO) { g.bbo.Update(b) }

func (g *LiveGateway) GetBalances(ctx context.Context) ([]Balance, error) { return g.client.GetBalances(ctx) }
func (g *LiveGateway) GetPositions(ctx context.Context) ([]Position, error) { return g.client.GetPositions(ctx) }
func (g *LiveGateway) GetOpenOrders(ctx context.Context, symbol Symbol) ([]Order, error) {
	return g.client.GetOpenOrders(ctx, symbol)
}

// PlaceOrder applies quantisation, PostOnly non-cross adjustment, and the
// price-deviation guard before submitting (spec §4.C).
func (g *LiveGateway) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	adjusted, err := g.prepareRequest(ctx, req)
	if err != nil {
		return Order{}, err
	}
	return g.client.PlaceOrder(ctx, adjusted)
}

func (g *LiveGateway) prepareRequest(ctx context.Context, req OrderRequest) (OrderRequest, error) {
	meta, err := g.instr.Get(ctx, req.Symbol)
	if err != nil {
		return req, err
	}

	var pricePtr *decimal.Decimal
	if req.Type == OrderTypeLimit {
		p := req.Price
		pricePtr = &p
	}
	normPrice, normQty, err := Normalize(meta, req.Side, pricePtr, req.Qty, req.Type)
	if err != nil {
		return req, err
	}
	req.Qty = normQty
	if normPrice != nil {
		req.Price = *normPrice
	}

	if req.Type == OrderTypeLimit && req.PostOnly {
		if bbo, ok := g.bbo.Get(req.Symbol); ok {
			req.Price = AdjustPostOnly(req.Side, req.Price, bbo, meta.PriceTick)
		}
	}

	if req.Type == OrderTypeLimit {
		if bbo, ok := g.bbo.Get(req.Symbol); ok {
			mid := bbo.Mid()
			if !mid.IsZero() && !g.devBpsLimit.IsZero() {
				devBps := req.Price.Sub(mid).Abs().Div(mid).Mul(decimal.NewFromInt(10000))
				if devBps.GreaterThan(g.devBpsLimit) {
					return req, core.New(core.RiskBreach, "price deviation exceeds price_dev_bps_limit")
				}
			}
		}
	}
	return req, nil
}

func (g *LiveGateway) CancelOrder(ctx context.Context, symbol Symbol, orderID, clientOrderID string) error {
	return g.client.CancelOrder(ctx, symbol, orderID, clientOrderID)
}

func (g *LiveGateway) AmendOrder(ctx context.Context, symbol Symbol, orderID, clientOrderID string, newPrice, newQty *decimal.Decimal) (Order, error) {
	meta, err := g.instr.Get(ctx, symbol)
	if err != nil {
		return Order{}, err
	}
	if newPrice != nil {
		if bbo, ok := g.bbo.Get(symbol); ok {
			mid := bbo.Mid()
			if !mid.IsZero() && !g.devBpsLimit.IsZero() {
				devBps := newPrice.Sub(mid).Abs().Div(mid).Mul(decimal.NewFromInt(10000))
				if devBps.GreaterThan(g.devBpsLimit) {
					return Order{}, core.New(core.RiskBreach, "amend price deviation exceeds price_dev_bps_limit")
				}
			}
		}
		p := roundToNearestStep(*newPrice, meta.PriceTick)
		newPrice = &p
	}
	return g.client.AmendOrder(ctx, symbol, orderID, clientOrderID, newPrice, newQty)
}

// GetTicker prefers the fresh BBO cache (fed by public WS) and falls back
// to a REST ticker fetch when stale, per spec §4.C's freshness gate.
func (g *LiveGateway) GetTicker(ctx context.Context, symbol Symbol) (BBO, error) {
	if b, ok := g.bbo.Get(symbol); ok && g.bbo.Valid(symbol) {
		return b, nil
	}
	b, err := g.client.GetTicker(ctx, symbol)
	if err != nil {
		return BBO{}, err
	}
	g.bbo.Update(b)
	return b, nil
}

func (g *LiveGateway) GetFundingInfo(ctx context.Context, symbol Symbol) (FundingInfo, error) {
	return g.client.GetFundingInfo(ctx, symbol)
}

func (g *LiveGateway) GetInstrumentMeta(ctx context.Context, symbol Symbol) (InstrumentMeta, error) {
	return g.instr.Get(ctx, symbol)
}

// SubscribePublic registers symbols with the public WS feed and returns a
// channel of BBO updates for them. The feed itself must be started
// separately via Run (the engine owns its goroutine lifetime).
func (g *LiveGateway) SubscribePublic(ctx context.Context, symbols []Symbol) (<-chan BBO, error) {
	g.publicWS.Subscribe(symbols)
	ch := make(chan BBO, 256)
	g.publicWS.Broadcast(ch)
	return ch, nil
}

// SubscribePrivate returns the private WS's execution-event channel. The
// feed itself must be started separately via Run.
func (g *LiveGateway) SubscribePrivate(ctx context.Context) (<-chan ExecutionEvent, error) {
	return g.privateWS.Events(), nil
}

// PublicWS exposes the public feed so the engine can start/stop its Run
// loop alongside the other long-lived tasks.
func (g *LiveGateway) PublicWS() *PublicWS { return g.publicWS }

// PrivateWS exposes the private feed so the engine can start/stop its Run
// loop and the OMS can check LastEventAt for the WS-staleness gate.
func (g *LiveGateway) PrivateWS() *PrivateWS { return g.privateWS }

// AuthPreflight delegates to the REST client's one-shot credential check.
func (g *LiveGateway) AuthPreflight(ctx context.Context) (bool, string) {
	return g.client.AuthPreflight(ctx)
}
