// backtest replays a historical tick + funding-rate feed through the
// funding-basis strategy offline, using the same OMS/risk/strategy wiring
// as the live engine but driven entirely by internal/backtest's harness.
//
// Tick file format: one JSON object per line (JSONL), fields matching
// tickRecord below. Instrument metadata (tick/step/min sizes) comes from
// the fixed values in defaultInstrumentMeta, since historical feeds rarely
// carry it per-tick.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/audit"
	"github.com/yoyowasa/crypto-neutral-bot/internal/backtest"
	"github.com/yoyowasa/crypto-neutral-bot/internal/config"
	"github.com/yoyowasa/crypto-neutral-bot/internal/cost"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
	"github.com/yoyowasa/crypto-neutral-bot/internal/oms"
	"github.com/yoyowasa/crypto-neutral-bot/internal/report"
	"github.com/yoyowasa/crypto-neutral-bot/internal/risk"
	"github.com/yoyowasa/crypto-neutral-bot/internal/strategy"
)

// tickRecord is the on-disk JSONL shape; decimals travel as strings to
// avoid float round-tripping through historical price data.
type tickRecord struct {
	Time           time.Time `json:"time"`
	Symbol         string    `json:"symbol"`
	PerpBid        string    `json:"perp_bid"`
	PerpAsk        string    `json:"perp_ask"`
	SpotBid        string    `json:"spot_bid"`
	SpotAsk        string    `json:"spot_ask"`
	FundingPresent bool      `json:"funding_present"`
	CurrentRate    string    `json:"current_rate"`
	PredictedRate  string    `json:"predicted_rate"`
	NextFundingAt  time.Time `json:"next_funding_at"`
}

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to bot config")
	ticksPath := flag.String("ticks", "", "path to a JSONL tick file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *ticksPath == "" {
		logger.Error("-ticks is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ticks, err := loadTicks(*ticksPath)
	if err != nil {
		logger.Error("failed to load ticks", "error", err)
		os.Exit(1)
	}

	meta := defaultInstrumentMeta(cfg.Symbols())
	btCfg := backtest.Config{
		InstrumentMeta: meta,
		Cost:           cost.DefaultModel(),
		InitialUSDT:    cfg.PaperInitialBalance(),
	}
	pe, f := backtest.NewHarness(btCfg)

	riskMgr := risk.NewManager(cfg.RiskManagerConfig(), logger)
	omsEngine := oms.New(pe, oms.DefaultStatusMap(), cfg.OMSEngineConfig(), nil, nil, logger)
	pe.BindOMS(omsEngine)
	strat := strategy.New(omsEngine, pe, riskMgr, cfg.StrategyEngineConfig(), logger)

	agg := audit.NewAggregator()
	result, err := backtest.Replay(context.Background(), ticks, strat, pe, f, agg, btCfg.Cost, logger)
	if err != nil {
		logger.Error("replay failed", "error", err)
		os.Exit(1)
	}

	logger.Info("replay complete",
		"round_trips", len(result.Trips),
		"total_net_pnl", result.TotalNetPnL.StringFixed(2),
	)
	fmt.Println(report.Daily(time.Now().UTC(), agg))
}

func loadTicks(path string) ([]backtest.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ticks []backtest.Tick
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec tickRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse tick line: %w", err)
		}
		symbol := exchange.Symbol(rec.Symbol)
		spotSymbol := exchange.Symbol(rec.Symbol + "_SPOT")
		tick := backtest.Tick{
			Time:   rec.Time,
			Symbol: symbol,
			PerpBBO: exchange.BBO{
				Symbol:    symbol,
				BidPrice:  decStr(rec.PerpBid),
				AskPrice:  decStr(rec.PerpAsk),
				UpdatedAt: rec.Time,
			},
			SpotBBO: exchange.BBO{
				Symbol:    spotSymbol,
				BidPrice:  decStr(rec.SpotBid),
				AskPrice:  decStr(rec.SpotAsk),
				UpdatedAt: rec.Time,
			},
			FundingPresent: rec.FundingPresent,
		}
		if rec.FundingPresent {
			tick.Funding = exchange.FundingInfo{
				Symbol:          symbol,
				CurrentRate:     decStr(rec.CurrentRate),
				PredictedRate:   decStr(rec.PredictedRate),
				NextFundingTime: rec.NextFundingAt,
			}
		}
		ticks = append(ticks, tick)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ticks, nil
}

func decStr(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func defaultInstrumentMeta(symbols []exchange.Symbol) map[exchange.Symbol]exchange.InstrumentMeta {
	meta := make(map[exchange.Symbol]exchange.InstrumentMeta, len(symbols)*2)
	for _, symbol := range symbols {
		spot := exchange.Symbol(string(symbol) + "_SPOT")
		m := exchange.InstrumentMeta{
			PriceTick:   decimal.NewFromFloat(0.01),
			QtyStep:     decimal.NewFromFloat(0.001),
			MinQty:      decimal.NewFromFloat(0.001),
			MinNotional: decimal.NewFromInt(5),
		}
		perpMeta, spotMeta := m, m
		perpMeta.Symbol, spotMeta.Symbol = symbol, spot
		meta[symbol] = perpMeta
		meta[spot] = spotMeta
	}
	return meta
}
