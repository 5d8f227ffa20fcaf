// Package strategy implements the Funding/Basis strategy (spec §4.G):
// per-symbol funding-rate evaluation, delta-neutral two-leg sizing, and
// the OPEN/HEDGE/CLOSE/SKIP decision core that drives the OMS.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const secondsPerYear = 365.0 * 24.0 * 3600.0

// AnnualizeRate converts a per-funding-period rate into a simple annual
// rate, given the venue's funding interval in seconds.
func AnnualizeRate(ratePerPeriod decimal.Decimal, periodSeconds float64) (decimal.Decimal, error) {
	if periodSeconds <= 0 {
		return decimal.Zero, fmt.Errorf("period_seconds must be positive")
	}
	periodsPerYear := secondsPerYear / periodSeconds
	return ratePerPeriod.Mul(decimal.NewFromFloat(periodsPerYear)), nil
}

// NotionalCandidate returns the additional notional available to open,
// bounded by both the portfolio-wide and per-symbol notional caps; zero
// if either cap is already exhausted.
func NotionalCandidate(maxTotalNotional, usedTotalNotional, maxSymbolNotional, usedSymbolNotional decimal.Decimal) decimal.Decimal {
	remainingTotal := maxTotalNotional.Sub(usedTotalNotional)
	if remainingTotal.LessThan(decimal.Zero) {
		remainingTotal = decimal.Zero
	}
	remainingSymbol := maxSymbolNotional.Sub(usedSymbolNotional)
	if remainingSymbol.LessThan(decimal.Zero) {
		remainingSymbol = decimal.Zero
	}
	if remainingSymbol.LessThan(remainingTotal) {
		return remainingSymbol
	}
	return remainingTotal
}

// NetDeltaBase returns the net base-asset exposure across a symbol's spot
// and perp legs (signed quantities, so a delta-neutral pair sums to ~0).
func NetDeltaBase(spotQty, perpQty decimal.Decimal) decimal.Decimal {
	return spotQty.Add(perpQty)
}
