// crypto-neutral-bot is a delta-neutral funding-rate/basis arbitrage bot:
// it holds long spot + short perp (or the reverse) on the same base asset,
// sized to stay market-neutral, and collects the funding-rate spread while
// hedging against basis risk.
//
// Architecture:
//
//	main.go             — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go    — orchestrator: wires gateway → OMS → strategy → risk, manages goroutine lifecycle
//	strategy/funding_basis.go — evaluates funding APR per symbol, decides OPEN/HEDGE/CLOSE
//	strategy/holdings.go — tracks spot/perp leg quantities, avg entry prices, hold periods
//	exchange/gateway_live.go — REST+WS venue gateway: quantization, PostOnly, price-guard
//	exchange/priceguard.go — anchor-price plausibility guard against bad ticks
//	exchange/auth.go    — API-key/secret request signing
//	exchange/ws.go      — reconnecting public/private WebSocket multiplexer
//	oms/engine.go       — order lifecycle state machine, timeout resend, PostOnly chase
//	risk/manager.go     — kill-switch latch: WS staleness, hedge latency, daily loss, funding flip
//	store/store.go      — holdings snapshot persistence (survives restarts)
//	audit/jsonl.go      — append-only order/fill audit trail
//
// How it makes money:
//
//	The bot opens a delta-neutral basis position whenever a symbol's
//	expected funding APR clears its cost hurdle (fees + slippage), then
//	collects the periodic funding payment until the rate decays or flips
//	sign, at which point it flattens back to zero exposure.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/yoyowasa/crypto-neutral-bot/internal/api"
	"github.com/yoyowasa/crypto-neutral-bot/internal/config"
	"github.com/yoyowasa/crypto-neutral-bot/internal/engine"
)

func main() {
	defaultCfgPath := "configs/config.yaml"
	if p := os.Getenv("FBOT_CONFIG"); p != "" {
		defaultCfgPath = p
	}

	cfgPath := flag.String("config", defaultCfgPath, "path to bot config")
	env := flag.String("env", "", "override config.env: testnet or mainnet")
	dryRun := flag.Bool("dry-run", false, "force dry-run mode regardless of config")
	flattenOnExit := flag.Bool("flatten-on-exit", false, "flatten every open position on shutdown")
	logLevel := flag.String("log-level", "", "override config.logging.level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if *env != "" {
		cfg.Env = *env
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *flattenOnExit {
		cfg.FlattenOnExit = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("crypto-neutral-bot started",
		"mode", cfg.Mode,
		"symbols", cfg.Strategy.Symbols,
		"min_expected_apr", cfg.Strategy.MinExpectedAPR,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
