// opscheck runs a one-shot operational health check against a running
// bot's configuration — gateway readiness, price-guard state, open orders,
// and risk kill-switch status per symbol — and prints the result as CSV or
// JSON for a cron job or alerting pipeline to consume.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/yoyowasa/crypto-neutral-bot/internal/config"
	"github.com/yoyowasa/crypto-neutral-bot/internal/engine"
	"github.com/yoyowasa/crypto-neutral-bot/internal/ops"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to bot config")
	format := flag.String("format", "csv", "output format: csv or json")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	rows := ops.Check(context.Background(), eng.Gateway(), eng.OMS(), eng.Risk(), eng.Symbols())

	var writeErr error
	switch *format {
	case "json":
		writeErr = ops.WriteJSON(os.Stdout, rows)
	default:
		writeErr = ops.WriteCSV(os.Stdout, rows)
	}
	if writeErr != nil {
		logger.Error("failed to write report", "error", writeErr)
		os.Exit(1)
	}

	for _, r := range rows {
		if r.RiskKilled {
			os.Exit(2)
		}
	}
}
