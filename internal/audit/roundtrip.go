package audit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// RoundTrip is one complete open-to-close basis position, the unit the
// daily report and ops-check KPIs are computed over (spec §4.I).
type RoundTrip struct {
	Symbol           exchange.Symbol
	OpenedAt         time.Time
	ClosedAt         time.Time
	SpotEntryPrice   decimal.Decimal
	PerpEntryPrice   decimal.Decimal
	SpotExitPrice    decimal.Decimal
	PerpExitPrice    decimal.Decimal
	Qty              decimal.Decimal
	FundingCollected decimal.Decimal
	FeesPaid         decimal.Decimal
	SlippageCost     decimal.Decimal
	HoldPeriods      int
}

// SpotPnL is the realized PnL on the spot leg (long spot: exit - entry).
func (r RoundTrip) SpotPnL() decimal.Decimal {
	return r.SpotExitPrice.Sub(r.SpotEntryPrice).Mul(r.Qty)
}

// PerpPnL is the realized PnL on the short-perp leg (entry - exit).
func (r RoundTrip) PerpPnL() decimal.Decimal {
	return r.PerpEntryPrice.Sub(r.PerpExitPrice).Mul(r.Qty)
}

// NetPnL is the total realized PnL for the round trip: both legs' price
// PnL, plus funding collected, minus fees and slippage cost.
func (r RoundTrip) NetPnL() decimal.Decimal {
	return r.SpotPnL().Add(r.PerpPnL()).Add(r.FundingCollected).Sub(r.FeesPaid).Sub(r.SlippageCost)
}

// Aggregator accumulates completed RoundTrips and derives the daily KPIs
// spec §6's report and ops-check consume: total net PnL, win rate, average
// hold periods, and per-symbol breakdowns.
type Aggregator struct {
	trips []RoundTrip
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record appends a completed round trip.
func (a *Aggregator) Record(rt RoundTrip) {
	a.trips = append(a.trips, rt)
}

// Trips returns every recorded round trip.
func (a *Aggregator) Trips() []RoundTrip {
	return append([]RoundTrip(nil), a.trips...)
}

// TotalNetPnL sums NetPnL across every recorded round trip.
func (a *Aggregator) TotalNetPnL() decimal.Decimal {
	total := decimal.Zero
	for _, t := range a.trips {
		total = total.Add(t.NetPnL())
	}
	return total
}

// WinRate returns the fraction of round trips with a positive NetPnL, or
// zero if none have been recorded.
func (a *Aggregator) WinRate() decimal.Decimal {
	if len(a.trips) == 0 {
		return decimal.Zero
	}
	wins := 0
	for _, t := range a.trips {
		if t.NetPnL().IsPositive() {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(a.trips))))
}

// AvgHoldPeriods returns the mean HoldPeriods across every recorded round
// trip, or zero if none have been recorded.
func (a *Aggregator) AvgHoldPeriods() decimal.Decimal {
	if len(a.trips) == 0 {
		return decimal.Zero
	}
	sum := 0
	for _, t := range a.trips {
		sum += t.HoldPeriods
	}
	return decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(int64(len(a.trips))))
}

// TotalFundingCollected sums FundingCollected across every recorded round
// trip.
func (a *Aggregator) TotalFundingCollected() decimal.Decimal {
	total := decimal.Zero
	for _, t := range a.trips {
		total = total.Add(t.FundingCollected)
	}
	return total
}

// TotalFeesPaid sums FeesPaid across every recorded round trip.
func (a *Aggregator) TotalFeesPaid() decimal.Decimal {
	total := decimal.Zero
	for _, t := range a.trips {
		total = total.Add(t.FeesPaid)
	}
	return total
}

// TotalNotionalTraded sums each round trip's traded notional: qty times the
// entry and exit prices of both legs (four fills per trip), the
// denominator for fee_rate/funding_share ratios.
func (a *Aggregator) TotalNotionalTraded() decimal.Decimal {
	total := decimal.Zero
	for _, t := range a.trips {
		notional := t.Qty.Mul(t.SpotEntryPrice.Add(t.PerpEntryPrice).Add(t.SpotExitPrice).Add(t.PerpExitPrice))
		total = total.Add(notional)
	}
	return total
}

// BySymbol groups net PnL per symbol, for a per-symbol breakdown row.
func (a *Aggregator) BySymbol() map[exchange.Symbol]decimal.Decimal {
	out := make(map[exchange.Symbol]decimal.Decimal)
	for _, t := range a.trips {
		out[t.Symbol] = out[t.Symbol].Add(t.NetPnL())
	}
	return out
}
