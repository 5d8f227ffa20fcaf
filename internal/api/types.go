package api

import (
	"time"

	"github.com/yoyowasa/crypto-neutral-bot/internal/config"
)

// DashboardSnapshot is the complete operational snapshot served at
// /api/snapshot and pushed over the WebSocket feed on every client connect
// and again on a fixed 5-second interval.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Holdings []HoldingStatus `json:"holdings"`
	Risk     RiskSnapshot    `json:"risk"`
	Config   ConfigSummary   `json:"config"`
}

// HoldingStatus is one symbol's current basis position.
type HoldingStatus struct {
	Symbol        string    `json:"symbol"`
	SpotQty       float64   `json:"spot_qty"`
	SpotAvgPrice  float64   `json:"spot_avg_price"`
	PerpQty       float64   `json:"perp_qty"`
	PerpAvgPrice  float64   `json:"perp_avg_price"`
	NetDeltaBase  float64   `json:"net_delta_base"`
	IsOpen        bool      `json:"is_open"`
	HoldPeriods   int       `json:"hold_periods"`
	OpenedAt      time.Time `json:"opened_at,omitempty"`
	LastFundingAt time.Time `json:"last_funding_at,omitempty"`
}

// RiskSnapshot is the risk manager's current kill-switch and exposure state.
type RiskSnapshot struct {
	KillSwitchActive  bool    `json:"kill_switch_active"`
	KillSwitchReason  string  `json:"kill_switch_reason,omitempty"`
	UsedTotalNotional float64 `json:"used_total_notional"`
	MaxTotalNotional  float64 `json:"max_total_notional"`
}

// ConfigSummary is the subset of the loaded config relevant to an operator
// dashboard.
type ConfigSummary struct {
	Mode                 string   `json:"mode"`
	DryRun               bool     `json:"dry_run"`
	Symbols              []string `json:"symbols"`
	MinExpectedAPR       float64  `json:"min_expected_apr"`
	RebalanceBandBps     float64  `json:"rebalance_band_bps"`
	TakerFeeBpsRoundtrip float64  `json:"taker_fee_bps_roundtrip"`
}

// NewConfigSummary builds a ConfigSummary from the loaded config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	strat := cfg.StrategyEngineConfig()
	symbols := make([]string, 0, len(strat.Symbols))
	for _, s := range strat.Symbols {
		symbols = append(symbols, string(s))
	}
	minAPR, _ := strat.MinExpectedAPR.Float64()
	rebalanceBps, _ := strat.RebalanceBandBps.Float64()
	takerBps, _ := strat.TakerFeeBpsRoundtrip.Float64()
	return ConfigSummary{
		Mode:                 cfg.Mode,
		DryRun:               cfg.DryRun,
		Symbols:              symbols,
		MinExpectedAPR:       minAPR,
		RebalanceBandBps:     rebalanceBps,
		TakerFeeBpsRoundtrip: takerBps,
	}
}
