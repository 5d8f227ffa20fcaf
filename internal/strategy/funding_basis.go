package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
	"github.com/yoyowasa/crypto-neutral-bot/internal/oms"
	"github.com/yoyowasa/crypto-neutral-bot/internal/risk"
)

// marketDataGateway is the subset of exchange.LiveGateway's extra surface
// (beyond the plain exchange.Gateway interface) that marketDataReady needs
// to gate an OPEN. The Python original finds this capability by searching
// a handful of duck-typed attribute names across self/oms/gateway; here a
// single type assertion replaces that search. paper.Exchange does not
// implement it, and is treated as always ready — a backtest/paper run has
// no price-scale convergence or anchor-plausibility state to wait on.
type marketDataGateway interface {
	IsPriceScaleReady(symbol exchange.Symbol) bool
	PriceGuardState(symbol exchange.Symbol) exchange.PriceGuardState
	BBOValid(symbol exchange.Symbol) bool
}

// Config tunes the Funding/Basis strategy (spec §4.G / §6). Grounded on
// `original_source/bot/strategy/funding_basis/engine.py`'s constructor
// keywords and `StrategyFundingConfig`.
type Config struct {
	Symbols              []exchange.Symbol
	RebalanceBandBps     decimal.Decimal
	MinExpectedAPR       decimal.Decimal
	TakerFeeBpsRoundtrip decimal.Decimal
	EstimatedSlippageBps decimal.Decimal
	MinHoldPeriods       decimal.Decimal
	PeriodSeconds        float64
	Limits               risk.LimitsConfig
}

// Strategy is the Funding/Basis decision engine (spec §4.G): per-symbol
// evaluate -> execute over OPEN/HEDGE/CLOSE/SKIP, driving the OMS and
// tracked through Holdings. Grounded directly on
// `original_source/bot/strategy/funding_basis/engine.py`'s
// FundingBasisStrategy.
type Strategy struct {
	oms      *oms.Engine
	gateway  exchange.Gateway
	risk     *risk.Manager
	cfg      Config
	logger   *slog.Logger
	holdings *Holdings

	symbolSet map[exchange.Symbol]bool
}

// New constructs a Strategy and wires itself into risk as the flat-probe
// and flatten-all callback, resolving the Risk<->Strategy constructor
// cycle the same way Python's late `set_flat_probe` call does.
func New(engine *oms.Engine, gateway exchange.Gateway, riskMgr *risk.Manager, cfg Config, logger *slog.Logger) *Strategy {
	symbolSet := make(map[exchange.Symbol]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbolSet[s] = true
	}
	if cfg.MinHoldPeriods.IsZero() {
		cfg.MinHoldPeriods = decimal.NewFromInt(1)
	}

	s := &Strategy{
		oms:       engine,
		gateway:   gateway,
		risk:      riskMgr,
		cfg:       cfg,
		logger:    logger.With("component", "strategy"),
		holdings:  NewHoldings(),
		symbolSet: symbolSet,
	}
	riskMgr.SetFlatProbe(func() decimal.Decimal { return s.holdings.NetExposure() })
	riskMgr.SetFlattenAll(func(ctx context.Context) error { return s.FlattenAll(ctx) })
	return s
}

// Step evaluates and immediately executes one tick for a symbol, mirroring
// the Python `step()` convenience wrapper.
func (s *Strategy) Step(ctx context.Context, funding exchange.FundingInfo, spotPrice, perpPrice decimal.Decimal) (exchange.Decision, error) {
	decision := s.Evaluate(funding, spotPrice, perpPrice)
	if err := s.Execute(ctx, decision, spotPrice, perpPrice); err != nil {
		return decision, err
	}
	return decision, nil
}

// Evaluate judges funding and current prices into the next action for a
// symbol, without side effects beyond feeding the risk manager's
// funding-flip hysteresis. Ported line-for-line from the Python
// `evaluate()`, including its branch order.
func (s *Strategy) Evaluate(funding exchange.FundingInfo, spotPrice, perpPrice decimal.Decimal) exchange.Decision {
	symbol := funding.Symbol

	if !s.symbolSet[symbol] {
		return exchange.Decision{Action: exchange.DecisionSkip, Symbol: symbol, Reason: "symbol not configured"}
	}

	predictedRate := funding.PredictedRate
	hasRate := !funding.NextFundingTime.IsZero()
	if hasRate {
		s.risk.UpdateFundingPredicted(symbol, predictedRate)
	}

	var apr decimal.Decimal
	hasAPR := false
	if hasRate {
		if a, err := AnnualizeRate(predictedRate, s.cfg.PeriodSeconds); err == nil {
			apr = a
			hasAPR = true
		}
	}

	holding, isOpen := s.holdings.Get(symbol)
	if isOpen {
		if !hasRate {
			return exchange.Decision{Action: exchange.DecisionClose, Symbol: symbol, Reason: "no funding forecast, closing"}
		}
		if predictedRate.LessThanOrEqual(decimal.Zero) {
			return exchange.Decision{Action: exchange.DecisionClose, Symbol: symbol, Reason: "funding sign flipped negative, closing", PredictedAPR: apr}
		}

		netDelta := holding.NetDeltaBase()
		dominantQty := holding.DominantBaseQty()
		if dominantQty.GreaterThan(decimal.Zero) {
			deltaBps := netDelta.Abs().Div(dominantQty).Mul(decimal.NewFromInt(10000))
			if deltaBps.GreaterThan(s.cfg.RebalanceBandBps) {
				return exchange.Decision{
					Action:         exchange.DecisionHedge,
					Symbol:         symbol,
					Reason:         "delta drift beyond rebalance band, hedging",
					PredictedAPR:   apr,
					DeltaToNeutral: netDelta.Neg(),
				}
			}
		}

		return exchange.Decision{Action: exchange.DecisionSkip, Symbol: symbol, Reason: "holding, within band", PredictedAPR: apr}
	}

	if s.risk.DisableNewOrders() {
		return exchange.Decision{Action: exchange.DecisionSkip, Symbol: symbol, Reason: "new orders disabled by risk manager", PredictedAPR: apr}
	}
	if !hasRate {
		return exchange.Decision{Action: exchange.DecisionSkip, Symbol: symbol, Reason: "funding forecast unavailable"}
	}
	if predictedRate.LessThanOrEqual(decimal.Zero) {
		return exchange.Decision{Action: exchange.DecisionSkip, Symbol: symbol, Reason: "negative funding, not eligible to open", PredictedAPR: apr}
	}
	if hasAPR && apr.LessThan(s.cfg.MinExpectedAPR) {
		return exchange.Decision{Action: exchange.DecisionSkip, Symbol: symbol, Reason: "apr below threshold", PredictedAPR: apr}
	}

	usedTotal := s.holdings.UsedTotalNotional()
	usedSymbol := s.holdings.UsedSymbolNotional(symbol)
	candidate := NotionalCandidate(s.cfg.Limits.MaxTotalNotional, usedTotal, s.cfg.Limits.MaxSymbolNotional, usedSymbol)
	if candidate.LessThanOrEqual(decimal.Zero) {
		return exchange.Decision{Action: exchange.DecisionSkip, Symbol: symbol, Reason: "no notional headroom available", PredictedAPR: apr}
	}

	expectedGain := predictedRate.Mul(candidate).Mul(s.cfg.MinHoldPeriods)
	totalCostBps := s.cfg.TakerFeeBpsRoundtrip.Add(s.cfg.EstimatedSlippageBps)
	expectedCost := candidate.Mul(totalCostBps).Div(decimal.NewFromInt(10000))
	if expectedGain.LessThanOrEqual(expectedCost) {
		return exchange.Decision{Action: exchange.DecisionSkip, Symbol: symbol, Reason: "expected gain below cost", PredictedAPR: apr}
	}

	return exchange.Decision{
		Action:       exchange.DecisionOpen,
		Symbol:       symbol,
		Reason:       "funding edge sufficient, opening",
		PredictedAPR: apr,
		Notional:     candidate,
		PerpSide:     exchange.SideSell,
		SpotSide:     exchange.SideBuy,
	}
}

// Execute converts a Decision into actual order submission, mirroring
// Python's execute().
func (s *Strategy) Execute(ctx context.Context, decision exchange.Decision, spotPrice, perpPrice decimal.Decimal) error {
	switch decision.Action {
	case exchange.DecisionSkip:
		s.logger.Debug("skip", "symbol", decision.Symbol, "reason", decision.Reason)
		return nil

	case exchange.DecisionHedge:
		delta := decision.DeltaToNeutral
		if delta.IsZero() {
			if holding, ok := s.holdings.Get(decision.Symbol); ok {
				delta = holding.NetDeltaBase().Neg()
			}
		}
		if delta.IsZero() {
			return nil
		}
		if err := s.oms.SubmitHedge(ctx, decision.Symbol, delta); err != nil {
			return err
		}
		s.holdings.UpdateOpen(decision.Symbol, decimal.Zero, spotPrice, delta, perpPrice)
		return nil

	case exchange.DecisionClose:
		return s.closeSymbol(ctx, decision.Symbol)

	case exchange.DecisionOpen:
		return s.openBasisPosition(ctx, decision, spotPrice, perpPrice)

	default:
		s.logger.Debug("unhandled decision action", "action", decision.Action)
		return nil
	}
}

// FlattenAll closes every currently open symbol at market, invoked by the
// risk manager's kill-switch latch.
func (s *Strategy) FlattenAll(ctx context.Context) error {
	for _, symbol := range s.holdings.Symbols() {
		if err := s.closeSymbol(ctx, symbol); err != nil {
			s.logger.Error("flatten_all: close failed", "symbol", symbol, "err", err)
		}
	}
	return nil
}

// openBasisPosition builds and submits both legs of a new basis position,
// gated on market-data readiness, risk precheck, and the two common-step
// sizing checks. Ported from `_open_basis_position`.
func (s *Strategy) openBasisPosition(ctx context.Context, decision exchange.Decision, spotPrice, perpPrice decimal.Decimal) error {
	ready, reason := s.marketDataReady(decision.Symbol)
	if !ready {
		s.logger.Info("open skipped: market data not ready", "symbol", decision.Symbol, "reason", reason)
		return nil
	}
	if s.risk.DisableNewOrders() {
		s.logger.Warn("open skipped: new orders disabled by risk manager", "symbol", decision.Symbol)
		return nil
	}
	if decision.Notional.LessThanOrEqual(decimal.Zero) {
		s.logger.Warn("open skipped: non-positive notional", "symbol", decision.Symbol)
		return nil
	}
	if spotPrice.LessThanOrEqual(decimal.Zero) || perpPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("spot_price/perp_price must be positive")
	}

	preErr := risk.PrecheckOpenOrder(string(decision.Symbol), decision.Notional, risk.PreTradeContext{
		UsedTotalNotional:      s.holdings.UsedTotalNotional(),
		UsedSymbolNotional:     s.holdings.UsedSymbolNotional(decision.Symbol),
		PredictedNetDeltaAfter: decimal.Zero,
		EstimatedSlippageBps:   s.cfg.EstimatedSlippageBps,
	}, s.cfg.Limits)
	if preErr != nil {
		s.logger.Info("open skipped: risk precheck failed", "symbol", decision.Symbol, "err", preErr)
		return nil
	}

	baseQty, ok := s.computeOpenBaseQty(decision.Symbol, decision.Notional, spotPrice)
	if !ok || baseQty.LessThanOrEqual(decimal.Zero) {
		s.logger.Info("open skipped: base qty not computable", "symbol", decision.Symbol)
		return nil
	}

	qtyFinal, err := s.roundQtyToCommonStep(ctx, decision.Symbol, baseQty)
	if err != nil || qtyFinal.LessThanOrEqual(decimal.Zero) {
		s.logger.Info("open skipped: qty non-positive after rounding", "symbol", decision.Symbol)
		return nil
	}

	anchorPx, _ := s.anchorPrice(decision.Symbol, spotPrice)
	limitsOK, limitsReason := s.minLimitsOk(ctx, decision.Symbol, qtyFinal, anchorPx)
	if !limitsOK {
		s.logger.Info("open skipped", "reason", limitsReason, "symbol", decision.Symbol)
		return nil
	}

	spotSide := decision.SpotSide
	if spotSide == "" {
		spotSide = exchange.SideBuy
	}
	perpSide := decision.PerpSide
	if perpSide == "" {
		perpSide = exchange.SideSell
	}
	signedSpotQty := qtyFinal
	if spotSide != exchange.SideBuy {
		signedSpotQty = signedSpotQty.Neg()
	}
	signedPerpQty := qtyFinal.Neg()
	if perpSide != exchange.SideSell {
		signedPerpQty = qtyFinal
	}

	perpReq := exchange.OrderRequest{
		Symbol: decision.Symbol, Side: perpSide, Type: exchange.OrderTypeMarket,
		Qty: qtyFinal, TimeInForce: exchange.TimeInForceIOC,
	}
	spotReq := exchange.OrderRequest{
		Symbol: spotSymbol(decision.Symbol), Side: spotSide, Type: exchange.OrderTypeMarket,
		Qty: qtyFinal, TimeInForce: exchange.TimeInForceIOC,
	}

	s.logger.Info("open", "symbol", decision.Symbol, "notional", decision.Notional, "perp_side", perpSide, "spot_side", spotSide)

	if _, err := s.oms.Submit(ctx, perpReq); err != nil {
		return err
	}
	if _, err := s.oms.Submit(ctx, spotReq); err != nil {
		return err
	}
	s.holdings.UpdateOpen(decision.Symbol, signedSpotQty, spotPrice, signedPerpQty, perpPrice)
	return nil
}

// closeSymbol unwinds both legs of a symbol's holding at market,
// reduce-only, and clears the ledger entry. Ported from `_close_symbol`.
func (s *Strategy) closeSymbol(ctx context.Context, symbol exchange.Symbol) error {
	holding, isOpen := s.holdings.Get(symbol)
	if !isOpen {
		return nil
	}
	s.logger.Info("close", "symbol", symbol)

	if !holding.PerpQty.IsZero() {
		side := exchange.SideSell
		if holding.PerpQty.LessThan(decimal.Zero) {
			side = exchange.SideBuy
		}
		if _, err := s.oms.Submit(ctx, exchange.OrderRequest{
			Symbol: symbol, Side: side, Type: exchange.OrderTypeMarket,
			Qty: holding.PerpQty.Abs(), TimeInForce: exchange.TimeInForceIOC, ReduceOnly: true,
		}); err != nil {
			return err
		}
	}
	if !holding.SpotQty.IsZero() {
		side := exchange.SideBuy
		if holding.SpotQty.GreaterThan(decimal.Zero) {
			side = exchange.SideSell
		}
		if _, err := s.oms.Submit(ctx, exchange.OrderRequest{
			Symbol: spotSymbol(symbol), Side: side, Type: exchange.OrderTypeMarket,
			Qty: holding.SpotQty.Abs(), TimeInForce: exchange.TimeInForceIOC, ReduceOnly: true,
		}); err != nil {
			return err
		}
	}
	s.holdings.Clear(symbol)
	return nil
}

// marketDataReady gates an OPEN on price-scale convergence, anchor-price
// plausibility, and BBO validity. Ported from `_market_data_ready`, with
// the Python duck-typed gateway search replaced by a single type
// assertion against marketDataGateway.
func (s *Strategy) marketDataReady(symbol exchange.Symbol) (bool, string) {
	gw, ok := s.gateway.(marketDataGateway)
	if !ok {
		return true, "OK"
	}
	if !gw.IsPriceScaleReady(symbol) {
		return false, "price_scale_not_ready"
	}
	state := gw.PriceGuardState(symbol)
	if state.Status != exchange.PriceGuardReady {
		return false, fmt.Sprintf("price_state=%s", state.Status)
	}
	if !gw.BBOValid(symbol) {
		return false, "bbo_invalid"
	}
	return true, "OK"
}

// anchorPrice returns the basis-sizing reference price: the caller-supplied
// spot price, matching the Python original's spot-price-first preference
// (index price as fallback is unavailable through the Gateway interface
// and is not modeled here).
func (s *Strategy) anchorPrice(symbol exchange.Symbol, spotPrice decimal.Decimal) (decimal.Decimal, bool) {
	if spotPrice.GreaterThan(decimal.Zero) {
		return spotPrice, true
	}
	return decimal.Zero, false
}

// computeOpenBaseQty converts a target USD notional into a base-asset
// quantity using the anchor price, computed once for both legs. Ported
// from `_compute_open_base_qty`.
func (s *Strategy) computeOpenBaseQty(symbol exchange.Symbol, notionalUSD, spotPrice decimal.Decimal) (decimal.Decimal, bool) {
	anchorPx, ok := s.anchorPrice(symbol, spotPrice)
	if !ok {
		return decimal.Zero, false
	}
	return notionalUSD.Div(anchorPx).Round(8), true
}

// roundQtyToCommonStep floors qty to the LCM of both legs' quantity steps,
// falling back to 8-decimal rounding if either leg's instrument metadata
// is unavailable. Ported from `_round_qty_to_common_step`.
func (s *Strategy) roundQtyToCommonStep(ctx context.Context, symbol exchange.Symbol, qty decimal.Decimal) (decimal.Decimal, error) {
	perpMeta, perpErr := s.gateway.GetInstrumentMeta(ctx, symbol)
	spotMeta, spotErr := s.gateway.GetInstrumentMeta(ctx, spotSymbol(symbol))
	if perpErr != nil || spotErr != nil {
		return qty.Round(8), nil
	}
	step := exchange.CommonQtyStep(perpMeta.QtyStep, spotMeta.QtyStep)
	if step.LessThanOrEqual(decimal.Zero) {
		return qty.Round(8), nil
	}
	return exchange.RoundDownToStep(qty, step).Round(8), nil
}

// minLimitsOk checks both legs' min-qty and min-notional floors against a
// single anchor price, returning the first failing reason. Ported from
// `_min_limits_ok`.
func (s *Strategy) minLimitsOk(ctx context.Context, symbol exchange.Symbol, qty, anchorPx decimal.Decimal) (bool, string) {
	perpMeta, perpErr := s.gateway.GetInstrumentMeta(ctx, symbol)
	spotMeta, spotErr := s.gateway.GetInstrumentMeta(ctx, spotSymbol(symbol))
	if perpErr != nil || spotErr != nil {
		return false, "no_gateway"
	}

	minQty := perpMeta.MinQty
	if spotMeta.MinQty.GreaterThan(minQty) {
		minQty = spotMeta.MinQty
	}
	if minQty.GreaterThan(decimal.Zero) && qty.LessThan(minQty) {
		return false, fmt.Sprintf("qty_below_min(min=%s)", minQty)
	}

	minNotional := perpMeta.MinNotional
	if spotMeta.MinNotional.GreaterThan(minNotional) {
		minNotional = spotMeta.MinNotional
	}
	if minNotional.GreaterThan(decimal.Zero) && anchorPx.GreaterThan(decimal.Zero) {
		if anchorPx.Mul(qty).LessThan(minNotional) {
			return false, fmt.Sprintf("notional_below_min(min=%s)", minNotional)
		}
	}
	return true, "OK"
}

// spotSymbol returns the _SPOT-suffixed counterpart of a perp symbol.
func spotSymbol(symbol exchange.Symbol) exchange.Symbol {
	if symbol.IsSpot() {
		return symbol
	}
	return exchange.Symbol(string(symbol) + "_SPOT")
}

// Holdings exposes the strategy's holding ledger for read-only use by the
// dashboard/report layers.
func (s *Strategy) Holdings() *Holdings { return s.holdings }

// Limits exposes the configured notional/slippage/delta limits for
// read-only use by the dashboard layer.
func (s *Strategy) Limits() risk.LimitsConfig { return s.cfg.Limits }
