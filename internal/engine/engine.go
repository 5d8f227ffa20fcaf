// Package engine is the central orchestrator of the funding-basis trading
// bot.
//
// It wires together all subsystems:
//
//  1. A Gateway (LiveGateway or the Paper Exchange, selected by config mode)
//     supplies market data and accepts order requests.
//  2. The OMS Engine owns every order's full lifecycle and drives the
//     Gateway's place/cancel/amend calls.
//  3. The Funding/Basis Strategy evaluates each configured symbol on a
//     fixed tick and drives the OMS through OPEN/HEDGE/CLOSE decisions.
//  4. The Risk Manager watches WS liveness, hedge latency, API errors and
//     daily PnL, and can fire a flatten-all kill switch.
//  5. An audit sink and holdings store persist the system's trail so a
//     restart recovers exactly where it left off.
//
// Lifecycle: New() → Start() → [runs until ctx is canceled] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yoyowasa/crypto-neutral-bot/internal/audit"
	"github.com/yoyowasa/crypto-neutral-bot/internal/config"
	"github.com/yoyowasa/crypto-neutral-bot/internal/cost"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange/paper"
	"github.com/yoyowasa/crypto-neutral-bot/internal/oms"
	"github.com/yoyowasa/crypto-neutral-bot/internal/risk"
	"github.com/yoyowasa/crypto-neutral-bot/internal/store"
	"github.com/yoyowasa/crypto-neutral-bot/internal/strategy"
)

// newPaperGateway builds a Paper Exchange for "paper"/"backtest" mode,
// backed by a read-only LiveGateway as its market-data source: real ticker
// and funding data, but every order fills against the in-memory simulator
// rather than the live venue.
func newPaperGateway(cfg *config.Config) *paper.Exchange {
	data := exchange.NewLiveGateway(cfg.LiveGatewayConfig(), nil, slog.Default())
	return paper.New(data, cfg.PaperInitialBalance())
}

// Engine orchestrates every component of the funding-basis trading system.
// It owns the lifecycle of all goroutines and manages the evaluate/execute
// tick loop per configured symbol.
type Engine struct {
	cfg    *config.Config
	gw     exchange.Gateway
	live   *exchange.LiveGateway // nil when cfg.Mode is "paper" or "backtest"
	oms    *oms.Engine
	risk   *risk.Manager
	strat   *strategy.Strategy
	audit   *audit.JSONLSink
	fillAcc *audit.FillAccumulator
	store   *store.Store
	logger  *slog.Logger

	symbols []exchange.Symbol

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every subsystem from cfg. The Gateway is a LiveGateway when
// cfg.Mode is anything other than "paper" or "backtest", and a Paper
// Exchange for those two modes. The backtest CLI itself drives the
// internal/backtest package instead of Engine.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	auditSink, err := audit.NewJSONLSink(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	symbols := cfg.Symbols()

	ctx, cancel := context.WithCancel(context.Background())

	fillAcc := audit.NewFillAccumulator(cost.DefaultModel(), nil)
	combinedSink := audit.NewMultiSink(auditSink, fillAcc)

	e := &Engine{
		cfg:     cfg,
		audit:   auditSink,
		fillAcc: fillAcc,
		store:   st,
		logger:  logger,
		symbols: symbols,
		ctx:     ctx,
		cancel:  cancel,
	}

	e.risk = risk.NewManager(cfg.RiskManagerConfig(), logger)

	var paperExchange *paper.Exchange
	var lastPrivateWSTs func() time.Time
	switch cfg.Mode {
	case "paper", "backtest":
		paperExchange = newPaperGateway(cfg)
		e.gw = paperExchange
	default:
		live := exchange.NewLiveGateway(cfg.LiveGatewayConfig(), func(ctx context.Context) {
			e.oms.ReconcileInflightOpenOrders(ctx, e.symbols)
		}, logger)
		e.live = live
		e.gw = live
		lastPrivateWSTs = func() time.Time { return live.PrivateWS().LastEventAt() }
	}

	e.oms = oms.New(e.gw, oms.DefaultStatusMap(), cfg.OMSEngineConfig(), combinedSink, lastPrivateWSTs, logger)
	if paperExchange != nil {
		paperExchange.BindOMS(e.oms)
	}

	e.strat = strategy.New(e.oms, e.gw, e.risk, cfg.StrategyEngineConfig(), logger)

	if snapshot, err := st.Load(); err == nil {
		e.strat.Holdings().Restore(snapshot)
	} else {
		logger.Warn("failed to restore holdings snapshot", "err", err)
	}

	return e, nil
}

// Start launches the engine's long-lived goroutines: the public/private WS
// feeds (live mode only), the strategy evaluate/execute tick loop (which
// also saves the holdings snapshot after each tick), the OMS
// timeout/postonly maintenance loop, and the risk kill watcher.
func (e *Engine) Start() error {
	if e.live != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.live.PublicWS().Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("public ws run exited", "err", err)
			}
		}()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.live.PrivateWS().Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("private ws run exited", "err", err)
			}
		}()
		e.live.PublicWS().Subscribe(e.symbols)

		if ok, reason := e.live.AuthPreflight(e.ctx); !ok {
			e.logger.Warn("auth preflight failed, trading calls will be rejected", "reason", reason)
		}
	}

	e.wg.Add(1)
	go e.runStrategyLoop()

	e.wg.Add(1)
	go e.runMaintenanceLoop()

	e.wg.Add(1)
	go e.runKillWatcher()

	return nil
}

// flattenDrainTimeout is the hard timeout on the flatten-on-exit drain
// (spec §4.J: "Flatten-drain has a hard timeout (~20s) after which it
// force-cancels outstanding orders").
const flattenDrainTimeout = 20 * time.Second

// Stop optionally flattens every open position, cancels every running
// goroutine, waits for them to exit, and flushes the audit sink and
// holdings store.
func (e *Engine) Stop() {
	if e.cfg.FlattenOnExit {
		e.logger.Info("flatten-on-exit: draining inflight orders before flattening")
		e.oms.Drain(e.ctx, flattenDrainTimeout)
		if err := e.strat.FlattenAll(e.ctx); err != nil {
			e.logger.Error("flatten-on-exit: flatten_all failed", "err", err)
		}
		e.oms.Drain(e.ctx, flattenDrainTimeout)
	}

	e.cancel()
	e.wg.Wait()
	if err := e.store.Save(e.strat.Holdings().Snapshot()); err != nil {
		e.logger.Error("final holdings save failed", "err", err)
	}
	e.audit.Close()
	e.store.Close()
}

// FillAccumulator exposes the live per-instrument round-trip accumulator,
// derived purely from the OMS fill stream (spec §4.I), for reporting and
// ops-check layers.
func (e *Engine) FillAccumulator() *audit.FillAccumulator { return e.fillAcc }

// runStrategyLoop evaluates and executes every configured symbol on a
// fixed 3-second tick.
func (e *Engine) runStrategyLoop() {
	defer e.wg.Done()
	interval := 3 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tickAll()
		}
	}
}

func (e *Engine) tickAll() {
	for _, symbol := range e.symbols {
		funding, err := e.gw.GetFundingInfo(e.ctx, symbol)
		if err != nil {
			e.logger.Debug("funding fetch failed", "symbol", symbol, "err", err)
			continue
		}
		perpBBO, err := e.gw.GetTicker(e.ctx, symbol)
		if err != nil {
			continue
		}
		spotBBO, err := e.gw.GetTicker(e.ctx, spotSymbolOf(symbol))
		if err != nil {
			continue
		}
		if _, err := e.strat.Step(e.ctx, funding, spotBBO.Mid(), perpBBO.Mid()); err != nil {
			e.logger.Error("strategy step failed", "symbol", symbol, "err", err)
		}
	}
	if err := e.store.Save(e.strat.Holdings().Snapshot()); err != nil {
		e.logger.Error("holdings save failed", "err", err)
	}
}

// runMaintenanceLoop periodically runs the OMS's timeout resend and
// PostOnly chase maintenance, matching the cadence a live deployment needs
// regardless of the strategy's own tick.
func (e *Engine) runMaintenanceLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.oms.ProcessTimeouts(e.ctx)
			e.oms.MaintainPostonlyOrders(e.ctx, e.symbols)
		}
	}
}

// runKillWatcher logs the kill reason the moment the risk manager's latch
// fires (the manager itself runs the strategy's flatten-all callback), and
// exits once the engine's context is canceled.
func (e *Engine) runKillWatcher() {
	defer e.wg.Done()
	select {
	case <-e.ctx.Done():
	case <-e.risk.KillCh():
		e.logger.Warn("risk kill triggered", "reason", e.risk.KillReason())
	}
}

// Gateway exposes the active Gateway for callers (e.g. ops-check) that need
// direct access outside the Engine's own tick loop.
func (e *Engine) Gateway() exchange.Gateway { return e.gw }

// OMS exposes the OMS engine for ops-check and the dashboard.
func (e *Engine) OMS() *oms.Engine { return e.oms }

// Risk exposes the Risk Manager for ops-check and the dashboard.
func (e *Engine) Risk() *risk.Manager { return e.risk }

// Strategy exposes the Strategy for the dashboard's holdings view.
func (e *Engine) Strategy() *strategy.Strategy { return e.strat }

// Symbols returns the configured perp symbols the engine evaluates.
func (e *Engine) Symbols() []exchange.Symbol { return e.symbols }

func spotSymbolOf(symbol exchange.Symbol) exchange.Symbol {
	if symbol.IsSpot() {
		return symbol
	}
	return exchange.Symbol(string(symbol) + "_SPOT")
}
