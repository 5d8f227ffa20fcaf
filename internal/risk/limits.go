package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
)

// LimitsConfig bounds pre-trade notional, slippage and net-delta exposure
// (spec §4.F / §6). Grounded on `original_source/bot/risk/limits.py`'s
// `RiskConfig` fields.
type LimitsConfig struct {
	MaxTotalNotional  decimal.Decimal
	MaxSymbolNotional decimal.Decimal
	MaxSlippageBps    decimal.Decimal
	MaxNetDelta       decimal.Decimal
}

// PreTradeContext is the state precheck_open_order evaluates against, with
// the would-be-order's effect already folded in by the caller.
type PreTradeContext struct {
	UsedTotalNotional       decimal.Decimal
	UsedSymbolNotional      decimal.Decimal
	PredictedNetDeltaAfter  decimal.Decimal
	EstimatedSlippageBps    decimal.Decimal
}

// PrecheckOpenOrder runs the four pre-trade checks in the order the
// Python reference runs them (total notional, symbol notional, slippage,
// net delta) and returns the first breach as a RiskBreach core.Error, or
// nil if the order clears every limit.
func PrecheckOpenOrder(symbol string, addNotional decimal.Decimal, ctx PreTradeContext, cfg LimitsConfig) error {
	if ctx.UsedTotalNotional.Add(addNotional).GreaterThan(cfg.MaxTotalNotional) {
		return core.New(core.RiskBreach, fmt.Sprintf(
			"total notional limit: used=%s + add=%s > max=%s",
			ctx.UsedTotalNotional, addNotional, cfg.MaxTotalNotional))
	}
	if ctx.UsedSymbolNotional.Add(addNotional).GreaterThan(cfg.MaxSymbolNotional) {
		return core.New(core.RiskBreach, fmt.Sprintf(
			"symbol notional limit(%s): used=%s + add=%s > max=%s",
			symbol, ctx.UsedSymbolNotional, addNotional, cfg.MaxSymbolNotional))
	}
	if ctx.EstimatedSlippageBps.GreaterThan(cfg.MaxSlippageBps) {
		return core.New(core.RiskBreach, fmt.Sprintf(
			"slippage limit: estimated=%sbps > max=%sbps",
			ctx.EstimatedSlippageBps, cfg.MaxSlippageBps))
	}
	if ctx.PredictedNetDeltaAfter.Abs().GreaterThan(cfg.MaxNetDelta) {
		return core.New(core.RiskBreach, fmt.Sprintf(
			"net delta limit: predicted_after=%s > max=%s",
			ctx.PredictedNetDeltaAfter, cfg.MaxNetDelta))
	}
	return nil
}
