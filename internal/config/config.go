// Package config defines all configuration for the funding-basis trading
// bot. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via FBOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
	"github.com/yoyowasa/crypto-neutral-bot/internal/oms"
	"github.com/yoyowasa/crypto-neutral-bot/internal/risk"
	"github.com/yoyowasa/crypto-neutral-bot/internal/strategy"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun           bool            `mapstructure:"dry_run"`
	Mode             string          `mapstructure:"mode"` // "live", "paper", or "backtest"
	Env              string          `mapstructure:"env"`  // "testnet" or "mainnet"
	AllowLive        bool            `mapstructure:"allow_live"`
	FlattenOnExit    bool            `mapstructure:"flatten_on_exit"`
	PaperInitialUSDT string          `mapstructure:"paper_initial_usdt"`
	Venue            VenueConfig     `mapstructure:"venue"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	OMS       OMSConfig       `mapstructure:"oms"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// VenueConfig holds the venue's REST/WS endpoints, API credentials, and
// the REST client's concurrency/circuit-breaker/price-guard knobs (spec
// §4.C, §6). ApiKey/Secret are normally supplied via FBOT_API_KEY/
// FBOT_API_SECRET rather than committed to the YAML file.
type VenueConfig struct {
	RestBaseURL           string        `mapstructure:"rest_base_url"`
	PublicWSURL           string        `mapstructure:"public_ws_url"`
	PrivateWSURL          string        `mapstructure:"private_ws_url"`
	ApiKey                string        `mapstructure:"api_key"`
	Secret                string        `mapstructure:"secret"`
	RestMaxConcurrency    int           `mapstructure:"rest_max_concurrency"`
	RestCBFailThreshold   int           `mapstructure:"rest_cb_fail_threshold"`
	RestCBOpenSeconds     time.Duration `mapstructure:"rest_cb_open_seconds"`
	InstrumentInfoTTLS    time.Duration `mapstructure:"instrument_info_ttl_s"`
	ScaleReadyRequired    int           `mapstructure:"scale_ready_required"`
	ScaleReadyMaxWaitS    time.Duration `mapstructure:"scale_ready_max_wait_s"`
	BBOMaxAgeMS           time.Duration `mapstructure:"bbo_max_age_ms"`
	PriceDevBpsLimit      string        `mapstructure:"price_dev_bps_limit"`
	PriceGuardAnchorMaxAgeS  time.Duration `mapstructure:"price_guard_anchor_max_age_s"`
	PriceGuardFreezeStaleMaxS time.Duration `mapstructure:"price_guard_freeze_stale_max_s"`
	PriceGuardRatioLow       string     `mapstructure:"price_guard_ratio_low"`
	PriceGuardRatioHigh      string     `mapstructure:"price_guard_ratio_high"`
	PriceGuardLastGoodBandPct string    `mapstructure:"price_guard_last_good_band_pct"`
}

// StrategyConfig tunes the Funding/Basis decision engine (spec §4.G, §6).
type StrategyConfig struct {
	Symbols              []string `mapstructure:"symbols"`
	RebalanceBandBps     string   `mapstructure:"rebalance_band_bps"`
	MinExpectedAPR       string   `mapstructure:"min_expected_apr"`
	TakerFeeBpsRoundtrip string   `mapstructure:"taker_fee_bps_roundtrip"`
	EstimatedSlippageBps string   `mapstructure:"estimated_slippage_bps"`
	MinHoldPeriods       string   `mapstructure:"min_hold_periods"`
	PeriodSeconds        float64  `mapstructure:"period_seconds"`
}

// OMSConfig tunes the Order Management Engine (spec §4.D, §6).
type OMSConfig struct {
	OrderTimeoutSec      time.Duration `mapstructure:"order_timeout_sec"`
	MaxRetries           int           `mapstructure:"max_retries"`
	WsStaleBlockMS       int64         `mapstructure:"ws_stale_block_ms"`
	ChaseEnabled         bool          `mapstructure:"chase_enabled"`
	ChaseMinRepriceBps   string        `mapstructure:"chase_min_reprice_bps"`
	ChaseIntervalMS      int64         `mapstructure:"chase_interval_ms"`
	ChaseMaxAmendsPerMin int           `mapstructure:"chase_max_amends_per_min"`
	RejectBurstThreshold int           `mapstructure:"reject_burst_threshold"`
	RejectBurstWindowS   time.Duration `mapstructure:"reject_burst_window_s"`
	SymbolCooldownS      time.Duration `mapstructure:"symbol_cooldown_s"`
}

// RiskConfig sets hard limits and kill-switch thresholds (spec §4.F, §6).
type RiskConfig struct {
	MaxTotalNotional          string  `mapstructure:"max_total_notional"`
	MaxSymbolNotional         string  `mapstructure:"max_symbol_notional"`
	MaxSlippageBps            string  `mapstructure:"max_slippage_bps"`
	MaxNetDelta               string  `mapstructure:"max_net_delta"`
	LossCutDaily              string  `mapstructure:"loss_cut_daily"`
	WsDisconnectThresholdSec  float64 `mapstructure:"ws_disconnect_threshold_sec"`
	HedgeDelayP95ThresholdSec float64 `mapstructure:"hedge_delay_p95_threshold_sec"`
	ApiErrorMaxIn60s          int     `mapstructure:"api_error_max_in_60s"`
	FundingFlipMinAbs         string  `mapstructure:"funding_flip_min_abs"`
	FundingFlipConsecutive    int     `mapstructure:"funding_flip_consecutive"`
	FundingFlipAsymmetric     bool    `mapstructure:"funding_flip_asymmetric"`
}

// StoreConfig sets where holdings/audit data is persisted, and optionally a
// SQLite file for queryable history (spec §6).
type StoreConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the operational dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: FBOT_API_KEY, FBOT_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("FBOT_API_KEY"); key != "" {
		cfg.Venue.ApiKey = key
	}
	if secret := os.Getenv("FBOT_API_SECRET"); secret != "" {
		cfg.Venue.Secret = secret
	}
	if os.Getenv("FBOT_DRY_RUN") == "true" || os.Getenv("FBOT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case "live", "paper", "backtest", "":
	default:
		return fmt.Errorf("mode must be one of: live, paper, backtest")
	}
	if c.Mode == "live" {
		if c.Venue.RestBaseURL == "" {
			return fmt.Errorf("venue.rest_base_url is required in live mode")
		}
		if c.Venue.ApiKey == "" || c.Venue.Secret == "" {
			return fmt.Errorf("venue.api_key/secret are required in live mode (set FBOT_API_KEY/FBOT_API_SECRET)")
		}
		if c.Env == "mainnet" && !c.AllowLive {
			return fmt.Errorf("mainnet trading requires allow_live=true (refusing to start against real funds unconfirmed)")
		}
	}
	if len(c.Strategy.Symbols) == 0 {
		return fmt.Errorf("strategy.symbols must list at least one symbol")
	}
	if _, err := decimal.NewFromString(orDefault(c.Strategy.MinExpectedAPR, "0")); err != nil {
		return fmt.Errorf("strategy.min_expected_apr: %w", err)
	}
	if _, err := decimal.NewFromString(orDefault(c.Risk.MaxTotalNotional, "0")); err != nil {
		return fmt.Errorf("risk.max_total_notional: %w", err)
	}
	if _, err := decimal.NewFromString(orDefault(c.Risk.MaxSymbolNotional, "0")); err != nil {
		return fmt.Errorf("risk.max_symbol_notional: %w", err)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func dec(s string, def decimal.Decimal) decimal.Decimal {
	if s == "" {
		return def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return d
}

// Symbols converts the configured string symbols into exchange.Symbol.
func (c *Config) Symbols() []exchange.Symbol {
	out := make([]exchange.Symbol, 0, len(c.Strategy.Symbols))
	for _, s := range c.Strategy.Symbols {
		out = append(out, exchange.Symbol(s))
	}
	return out
}

// LimitsConfig builds a risk.LimitsConfig from the decimal-string fields.
func (c *Config) LimitsConfig() risk.LimitsConfig {
	return risk.LimitsConfig{
		MaxTotalNotional:  dec(c.Risk.MaxTotalNotional, decimal.NewFromInt(1000000)),
		MaxSymbolNotional: dec(c.Risk.MaxSymbolNotional, decimal.NewFromInt(250000)),
		MaxSlippageBps:    dec(c.Risk.MaxSlippageBps, decimal.NewFromInt(50)),
		MaxNetDelta:       dec(c.Risk.MaxNetDelta, decimal.NewFromInt(100000)),
	}
}

// RiskManagerConfig builds a risk.Config from the decimal-string fields,
// falling back to risk.DefaultConfig()'s defaults where unset.
func (c *Config) RiskManagerConfig() risk.Config {
	d := risk.DefaultConfig()
	return risk.Config{
		LossCutDaily:              dec(c.Risk.LossCutDaily, d.LossCutDaily),
		WsDisconnectThresholdSec:  orFloat(c.Risk.WsDisconnectThresholdSec, d.WsDisconnectThresholdSec),
		HedgeDelayP95ThresholdSec: orFloat(c.Risk.HedgeDelayP95ThresholdSec, d.HedgeDelayP95ThresholdSec),
		ApiErrorMaxIn60s:          orInt(c.Risk.ApiErrorMaxIn60s, d.ApiErrorMaxIn60s),
		FundingFlipMinAbs:         dec(c.Risk.FundingFlipMinAbs, d.FundingFlipMinAbs),
		FundingFlipConsecutive:    orInt(c.Risk.FundingFlipConsecutive, d.FundingFlipConsecutive),
		FundingFlipAsymmetric:     c.Risk.FundingFlipAsymmetric,
	}
}

// OMSEngineConfig builds an oms.Config from the configured fields, falling
// back to oms.DefaultConfig()'s defaults where unset.
func (c *Config) OMSEngineConfig() oms.Config {
	d := oms.DefaultConfig()
	return oms.Config{
		OrderTimeoutSec:      orDuration(c.OMS.OrderTimeoutSec, d.OrderTimeoutSec),
		MaxRetries:           orInt(c.OMS.MaxRetries, d.MaxRetries),
		WsStaleBlockMS:       orInt64(c.OMS.WsStaleBlockMS, d.WsStaleBlockMS),
		ChaseEnabled:         c.OMS.ChaseEnabled,
		ChaseMinRepriceBps:   dec(c.OMS.ChaseMinRepriceBps, d.ChaseMinRepriceBps),
		ChaseIntervalMS:      orInt64(c.OMS.ChaseIntervalMS, d.ChaseIntervalMS),
		ChaseMaxAmendsPerMin: orInt(c.OMS.ChaseMaxAmendsPerMin, d.ChaseMaxAmendsPerMin),
		RejectBurstThreshold: orInt(c.OMS.RejectBurstThreshold, d.RejectBurstThreshold),
		RejectBurstWindow:    orDuration(c.OMS.RejectBurstWindowS, d.RejectBurstWindow),
		SymbolCooldown:       orDuration(c.OMS.SymbolCooldownS, d.SymbolCooldown),
	}
}

// StrategyEngineConfig builds a strategy.Config from the configured
// fields, including the nested risk limits.
func (c *Config) StrategyEngineConfig() strategy.Config {
	return strategy.Config{
		Symbols:              c.Symbols(),
		RebalanceBandBps:     dec(c.Strategy.RebalanceBandBps, decimal.NewFromInt(50)),
		MinExpectedAPR:       dec(c.Strategy.MinExpectedAPR, decimal.NewFromFloat(0.1)),
		TakerFeeBpsRoundtrip: dec(c.Strategy.TakerFeeBpsRoundtrip, decimal.NewFromInt(24)),
		EstimatedSlippageBps: dec(c.Strategy.EstimatedSlippageBps, decimal.NewFromInt(8)),
		MinHoldPeriods:       dec(c.Strategy.MinHoldPeriods, decimal.NewFromInt(1)),
		PeriodSeconds:        orFloat(c.Strategy.PeriodSeconds, 8*3600),
		Limits:               c.LimitsConfig(),
	}
}

// PriceGuardConfig builds an exchange.PriceGuardConfig from the configured
// fields, falling back to exchange.DefaultPriceGuardConfig()'s defaults
// where unset.
func (c *Config) PriceGuardConfig() exchange.PriceGuardConfig {
	d := exchange.DefaultPriceGuardConfig()
	return exchange.PriceGuardConfig{
		AnchorMaxAge:    orDuration(c.Venue.PriceGuardAnchorMaxAgeS, d.AnchorMaxAge),
		FreezeStaleMax:  orDuration(c.Venue.PriceGuardFreezeStaleMaxS, d.FreezeStaleMax),
		RatioLow:        dec(c.Venue.PriceGuardRatioLow, d.RatioLow),
		RatioHigh:       dec(c.Venue.PriceGuardRatioHigh, d.RatioHigh),
		LastGoodBandPct: dec(c.Venue.PriceGuardLastGoodBandPct, d.LastGoodBandPct),
	}
}

// ClientConfig builds an exchange.ClientConfig for the live REST client.
func (c *Config) ClientConfig() exchange.ClientConfig {
	return exchange.ClientConfig{
		BaseURL:            c.Venue.RestBaseURL,
		Credentials:        exchange.Credentials{APIKey: c.Venue.ApiKey, Secret: c.Venue.Secret},
		RestMaxConcurrency: c.Venue.RestMaxConcurrency,
		CBFailThreshold:    c.Venue.RestCBFailThreshold,
		CBOpenSeconds:      orDuration(c.Venue.RestCBOpenSeconds, 30*time.Second),
		DryRun:             c.DryRun,
	}
}

// LiveGatewayConfig builds an exchange.LiveGatewayConfig wiring every
// venue/price-guard knob through to LiveGateway's constructor.
func (c *Config) LiveGatewayConfig() exchange.LiveGatewayConfig {
	return exchange.LiveGatewayConfig{
		Client:             c.ClientConfig(),
		PublicWSURL:        c.Venue.PublicWSURL,
		PrivateWSURL:       c.Venue.PrivateWSURL,
		InstrumentInfoTTL:  orDuration(c.Venue.InstrumentInfoTTLS, 10*time.Minute),
		ScaleReadyRequired: orInt(c.Venue.ScaleReadyRequired, 2),
		ScaleReadyMaxWait:  orDuration(c.Venue.ScaleReadyMaxWaitS, 30*time.Second),
		BBOMaxAge:          orDuration(c.Venue.BBOMaxAgeMS, 15*time.Second),
		PriceGuard:         c.PriceGuardConfig(),
		PriceDevBpsLimit:   dec(c.Venue.PriceDevBpsLimit, decimal.NewFromInt(50)),
	}
}

// PaperInitialBalance returns the paper exchange's seeded USDT balance,
// defaulting to 100,000 when unset.
func (c *Config) PaperInitialBalance() decimal.Decimal {
	return dec(c.PaperInitialUSDT, decimal.NewFromInt(100000))
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orInt64(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
