package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// FundingAccrual computes the funding payment a short-perp holding collects
// (or pays, if the rate is negative) for one funding interval: rate times
// the perp leg's notional at the given mark price.
func FundingAccrual(holding exchange.Holding, rate, markPrice decimal.Decimal) decimal.Decimal {
	notional := holding.PerpQty.Abs().Mul(markPrice)
	return rate.Mul(notional)
}
