// Package backtest replays a historical tick + funding-schedule feed
// through the Paper Exchange and the Funding/Basis strategy so its
// OPEN/HEDGE/CLOSE decisions can be evaluated offline (spec §4.H).
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/audit"
	"github.com/yoyowasa/crypto-neutral-bot/internal/cost"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange/paper"
	"github.com/yoyowasa/crypto-neutral-bot/internal/strategy"
)

// Tick is one timestamped market-data sample for a symbol: the perp and
// spot BBOs and, when FundingPresent is true, a funding-rate update. Replay
// drives the strategy's step() cycle once per tick carrying funding; every
// other tick only refreshes the price feed so paper fills stay realistic.
type Tick struct {
	Time           time.Time
	Symbol         exchange.Symbol
	PerpBBO        exchange.BBO
	SpotBBO        exchange.BBO
	Funding        exchange.FundingInfo
	FundingPresent bool
}

// feed is a mutable tick-driven paper.DataSource: the replayer pushes the
// latest BBO/funding into it before every paper-exchange call, so the
// paper exchange and the strategy both read a consistent snapshot of
// "current" market data without touching the network.
type feed struct {
	meta    map[exchange.Symbol]exchange.InstrumentMeta
	current map[exchange.Symbol]exchange.BBO
	funding map[exchange.Symbol]exchange.FundingInfo
}

func newFeed(meta map[exchange.Symbol]exchange.InstrumentMeta) *feed {
	return &feed{
		meta:    meta,
		current: make(map[exchange.Symbol]exchange.BBO),
		funding: make(map[exchange.Symbol]exchange.FundingInfo),
	}
}

func (f *feed) GetTicker(_ context.Context, symbol exchange.Symbol) (exchange.BBO, error) {
	return f.current[symbol], nil
}

func (f *feed) GetFundingInfo(_ context.Context, symbol exchange.Symbol) (exchange.FundingInfo, error) {
	return f.funding[symbol], nil
}

func (f *feed) GetInstrumentMeta(_ context.Context, symbol exchange.Symbol) (exchange.InstrumentMeta, error) {
	m, ok := f.meta[symbol]
	if !ok {
		return exchange.InstrumentMeta{}, fmt.Errorf("no instrument meta for %s", symbol)
	}
	return m, nil
}

func spotOf(symbol exchange.Symbol) exchange.Symbol {
	if symbol.IsSpot() {
		return symbol
	}
	return exchange.Symbol(string(symbol) + "_SPOT")
}

// Config bundles the replay's static inputs: instrument metadata (keyed by
// both the perp and the _SPOT symbol) and the cost model used to price
// completed round trips.
type Config struct {
	InstrumentMeta map[exchange.Symbol]exchange.InstrumentMeta
	Cost           cost.Model
	InitialUSDT    decimal.Decimal
}

// Result is the outcome of one Replay run.
type Result struct {
	Trips         []audit.RoundTrip
	FinalHoldings map[exchange.Symbol]exchange.Holding
	TotalNetPnL   decimal.Decimal
}

// NewHarness builds a fresh Paper Exchange and its backing tick feed, ready
// to be driven by Replay. Callers construct their own oms.Engine/risk.Manager
// /strategy.Strategy bound to the returned Paper Exchange (it satisfies
// exchange.Gateway) exactly as the live engine does.
func NewHarness(cfg Config) (*paper.Exchange, *feed) {
	f := newFeed(cfg.InstrumentMeta)
	pe := paper.New(f, cfg.InitialUSDT)
	return pe, f
}

// Replay sorts ticks by Time and feeds them through pe/f, calling
// strat.Step once per tick carrying a funding update. It detects every
// symbol transition from open to closed and records a RoundTrip into agg,
// pricing entry/exit legs from the holding snapshots straddling the close
// and fees/slippage from costModel. Grounded on
// `original_source/bot/backtest/replay.py`'s tick-ordered event loop.
func Replay(ctx context.Context, ticks []Tick, strat *strategy.Strategy, pe *paper.Exchange, f *feed, agg *audit.Aggregator, costModel cost.Model, logger *slog.Logger) (Result, error) {
	sorted := append([]Tick(nil), ticks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	openSnapshots := make(map[exchange.Symbol]exchange.Holding)
	fundingAccrued := make(map[exchange.Symbol]decimal.Decimal)

	for _, tick := range sorted {
		spotSym := spotOf(tick.Symbol)
		f.current[tick.Symbol] = tick.PerpBBO
		f.current[spotSym] = tick.SpotBBO
		pe.UpdateBBO(tick.Symbol, tick.PerpBBO)
		pe.UpdateBBO(spotSym, tick.SpotBBO)
		if !tick.PerpBBO.Mid().IsZero() {
			pe.UpdateLastPrice(tick.Symbol, tick.PerpBBO.Mid())
		}
		if !tick.SpotBBO.Mid().IsZero() {
			pe.UpdateLastPrice(spotSym, tick.SpotBBO.Mid())
		}

		if !tick.FundingPresent {
			continue
		}
		f.funding[tick.Symbol] = tick.Funding

		before, wasOpen := strat.Holdings().Get(tick.Symbol)
		if wasOpen {
			openSnapshots[tick.Symbol] = before
			fundingAccrued[tick.Symbol] = fundingAccrued[tick.Symbol].Add(
				FundingAccrual(before, tick.Funding.CurrentRate, tick.PerpBBO.Mid()))
		}

		_, err := strat.Step(ctx, tick.Funding, tick.SpotBBO.Mid(), tick.PerpBBO.Mid())
		if err != nil {
			logger.Error("replay step failed", "symbol", tick.Symbol, "err", err)
			continue
		}

		after, isOpen := strat.Holdings().Get(tick.Symbol)
		snapshot, hadSnapshot := openSnapshots[tick.Symbol]
		if wasOpen && !isOpen && hadSnapshot {
			notional := snapshot.TotalNotional()
			agg.Record(audit.RoundTrip{
				Symbol:         tick.Symbol,
				OpenedAt:       snapshot.OpenedAt,
				ClosedAt:       tick.Time,
				SpotEntryPrice: snapshot.SpotAvgPrice,
				PerpEntryPrice: snapshot.PerpAvgPrice,
				SpotExitPrice:  tick.SpotBBO.Mid(),
				PerpExitPrice:  tick.PerpBBO.Mid(),
				Qty:              snapshot.SpotQty.Abs(),
				FundingCollected: fundingAccrued[tick.Symbol],
				FeesPaid:         costModel.RoundtripCostQuote(notional),
				HoldPeriods:      snapshot.HoldPeriods,
			})
			delete(openSnapshots, tick.Symbol)
			delete(fundingAccrued, tick.Symbol)
		} else if isOpen {
			openSnapshots[tick.Symbol] = after
		}
	}

	return Result{
		Trips:         agg.Trips(),
		FinalHoldings: strat.Holdings().Snapshot(),
		TotalNetPnL:   agg.TotalNetPnL(),
	}, nil
}
