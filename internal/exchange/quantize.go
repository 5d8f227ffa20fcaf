package exchange

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
)

// roundDownToStep floors x to the nearest multiple of step. step must be
// positive.
func roundDownToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return x
	}
	div := x.DivRound(step, 0)
	if div.Mul(step).GreaterThan(x) {
		div = div.Sub(decimal.NewFromInt(1))
	}
	return div.Mul(step)
}

// roundToNearestStep rounds x to the nearest multiple of step, half away
// from zero. Used for tick-rounding prices.
func roundToNearestStep(x, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return x
	}
	return x.DivRound(step, 0).Mul(step)
}

// Normalize rounds qty down to meta.QtyStep and price to meta.PriceTick,
// returning canonical decimal values ready for wire transmission (callers
// render them with decimal.Decimal.String, which never emits scientific
// notation). It returns an InvalidRequest core.Error if the rounded qty
// falls below meta.MinQty.
func Normalize(meta InstrumentMeta, side Side, price *decimal.Decimal, qty decimal.Decimal, typ OrderType) (outPrice *decimal.Decimal, outQty decimal.Decimal, err error) {
	if meta.QtyStep.IsZero() || meta.PriceTick.IsZero() {
		return nil, decimal.Zero, core.New(core.DataError, "instrument meta missing price_tick/qty_step")
	}

	outQty = roundDownToStep(qty, meta.QtyStep)
	if outQty.LessThan(meta.MinQty) {
		return nil, decimal.Zero, core.New(core.InvalidRequest, "qty below min_qty after quantisation")
	}

	if typ == OrderTypeMarket || price == nil {
		return nil, outQty, nil
	}

	rounded := roundToNearestStep(*price, meta.PriceTick)
	outPrice = &rounded
	return outPrice, outQty, nil
}

// AdjustPostOnly computes the non-crossing price for a PostOnly limit order:
// best_ask - 1 tick for BUY, best_bid + 1 tick for SELL, then quantised to
// tick. If bbo is the zero value (unavailable), price is returned
// unchanged.
func AdjustPostOnly(side Side, price decimal.Decimal, bbo BBO, tick decimal.Decimal) decimal.Decimal {
	if bbo.AskPrice.IsZero() && bbo.BidPrice.IsZero() {
		return price
	}
	var target decimal.Decimal
	if side == SideBuy {
		if bbo.AskPrice.IsZero() {
			return price
		}
		target = bbo.AskPrice.Sub(tick)
	} else {
		if bbo.BidPrice.IsZero() {
			return price
		}
		target = bbo.BidPrice.Add(tick)
	}
	return roundToNearestStep(target, tick)
}

// RoundDownToStep floors x to the nearest multiple of step, clamping
// negative results to zero. Exported for callers outside this package that
// need to quantise a quantity to a pre-computed common step (e.g. Strategy
// aligning a basis position's two legs to CommonQtyStep).
func RoundDownToStep(x, step decimal.Decimal) decimal.Decimal {
	out := roundDownToStep(x, step)
	if out.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return out
}

// CommonQtyStep returns the least common multiple of two venues' quantity
// steps for the same symbol, so a single quantity satisfies both legs'
// quantisation after rounding down. Steps are treated as integer multiples
// of their greatest common decimal unit.
func CommonQtyStep(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	scale := -a.Exponent()
	if e := -b.Exponent(); e > scale {
		scale = e
	}
	factor := decimal.New(1, int32(scale))
	ai := a.Mul(factor).Round(0).BigInt()
	bi := b.Mul(factor).Round(0).BigInt()

	g := new(big.Int).GCD(nil, nil, new(big.Int).Abs(ai), new(big.Int).Abs(bi))
	if g.Sign() == 0 {
		return a
	}
	l := new(big.Int).Div(ai, g)
	l.Mul(l, bi)
	return decimal.NewFromBigInt(l, -int32(scale))
}
