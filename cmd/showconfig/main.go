// showconfig loads a bot config file, validates it, and dumps the fully
// resolved configuration (YAML + env overrides + built-in defaults) as
// JSON, so an operator can confirm what the bot will actually run with
// before starting it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/yoyowasa/crypto-neutral-bot/internal/config"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

func redactCredentials(c exchange.Credentials) exchange.Credentials {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "***set***"
	}
	return exchange.Credentials{APIKey: redact(c.APIKey), Secret: redact(c.Secret)}
}

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to bot config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	venueCfg := cfg.ClientConfig()
	venueCfg.Credentials = redactCredentials(venueCfg.Credentials)

	resolved := map[string]any{
		"mode":               cfg.Mode,
		"dry_run":            cfg.DryRun,
		"venue":              venueCfg,
		"strategy":           cfg.StrategyEngineConfig(),
		"oms":                cfg.OMSEngineConfig(),
		"risk_manager":       cfg.RiskManagerConfig(),
		"limits":             cfg.LimitsConfig(),
		"price_guard":        cfg.PriceGuardConfig(),
		"store":              cfg.Store,
		"logging":            cfg.Logging,
		"dashboard":          cfg.Dashboard,
		"paper_initial_usdt": cfg.PaperInitialBalance().String(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resolved); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
