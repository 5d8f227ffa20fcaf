// Package cost centralises fee, slippage, and round-trip cost estimation so
// Strategy and the backtest replayer price a candidate trade the same way.
package cost

import (
	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

var bps10k = decimal.NewFromInt(10000)

// Model is a venue-agnostic fee/slippage estimator. Defaults mirror the
// Python reference's CostModel dataclass.
type Model struct {
	SpotTakerFeeBps  decimal.Decimal
	PerpTakerFeeBps  decimal.Decimal
	SlippageBps      decimal.Decimal
	ExtraSpreadBps   decimal.Decimal
}

// DefaultModel returns the reference fee/slippage assumptions.
func DefaultModel() Model {
	return Model{
		SpotTakerFeeBps: decimal.NewFromInt(6),
		PerpTakerFeeBps: decimal.NewFromInt(6),
		SlippageBps:     decimal.NewFromInt(3),
		ExtraSpreadBps:  decimal.NewFromInt(1),
	}
}

func (m Model) feeBps(sym exchange.Symbol) decimal.Decimal {
	if sym.IsSpot() {
		return m.SpotTakerFeeBps
	}
	return m.PerpTakerFeeBps
}

// TakerFee returns the taker fee, in quote currency, for a fill of qty at
// price on the given symbol's venue leg.
func (m Model) TakerFee(sym exchange.Symbol, qty, price decimal.Decimal) decimal.Decimal {
	notional := qty.Mul(price).Abs()
	return notional.Mul(m.feeBps(sym)).Div(bps10k)
}

// FeeQuote returns the taker fee for a notional already expressed in quote
// currency, selecting the fee tier by venue rather than by symbol suffix.
func (m Model) FeeQuote(notionalQuote decimal.Decimal, spot bool) decimal.Decimal {
	bps := m.PerpTakerFeeBps
	if spot {
		bps = m.SpotTakerFeeBps
	}
	return notionalQuote.Abs().Mul(bps).Div(bps10k)
}

func (m Model) slipBps() decimal.Decimal {
	return m.SlippageBps.Add(m.ExtraSpreadBps)
}

// SlippagePx applies the configured slippage+spread bps on top of px,
// pushing the price against the taker's side. Use when no BBO is available
// and a pseudo-fill price must be estimated from a last-trade price alone.
func (m Model) SlippagePx(px decimal.Decimal, side exchange.Side) decimal.Decimal {
	slip := m.slipBps().Div(bps10k)
	if side == exchange.SideBuy {
		return px.Mul(decimal.NewFromInt(1).Add(slip))
	}
	return px.Mul(decimal.NewFromInt(1).Sub(slip))
}

// MarketFillPrice estimates the price a taker market order would fill at,
// applying slippage+spread on top of the crossing side of the book. Falls
// back to fallback (e.g. last trade price) when neither bid nor ask is
// available.
func (m Model) MarketFillPrice(bid, ask *decimal.Decimal, side exchange.Side, fallback decimal.Decimal) decimal.Decimal {
	slip := m.slipBps().Div(bps10k)
	one := decimal.NewFromInt(1)
	if side == exchange.SideBuy {
		if ask != nil {
			return ask.Mul(one.Add(slip))
		}
		if bid != nil {
			return bid.Mul(one.Add(slip))
		}
	} else {
		if bid != nil {
			return bid.Mul(one.Sub(slip))
		}
		if ask != nil {
			return ask.Mul(one.Sub(slip))
		}
	}
	return fallback
}

// SlippageCost estimates the slippage+spread cost, in quote currency, for a
// fill of the given notional.
func (m Model) SlippageCost(notional decimal.Decimal) decimal.Decimal {
	return notional.Abs().Mul(m.slipBps()).Div(bps10k)
}

// RoundtripCostQuote estimates the all-in cost of a funding-basis round
// trip: two legs (spot + perp), each opened and closed, so four fills total.
func (m Model) RoundtripCostQuote(notionalQuote decimal.Decimal) decimal.Decimal {
	n := notionalQuote.Abs()
	feeBpsTotal := m.SpotTakerFeeBps.Add(m.PerpTakerFeeBps).Mul(decimal.NewFromInt(2))
	slipBpsTotal := m.slipBps().Mul(decimal.NewFromInt(4))
	return n.Mul(feeBpsTotal.Add(slipBpsTotal)).Div(bps10k)
}
