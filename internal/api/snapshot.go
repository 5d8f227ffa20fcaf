package api

import (
	"time"

	"github.com/yoyowasa/crypto-neutral-bot/internal/config"
	"github.com/yoyowasa/crypto-neutral-bot/internal/risk"
	"github.com/yoyowasa/crypto-neutral-bot/internal/strategy"
)

// MarketSnapshotProvider is the subset of *engine.Engine the dashboard
// reads from; satisfied structurally so this package never imports engine.
type MarketSnapshotProvider interface {
	Strategy() *strategy.Strategy
	Risk() *risk.Manager
}

// BuildSnapshot aggregates holdings and risk state into a dashboard snapshot.
func BuildSnapshot(provider MarketSnapshotProvider, cfg config.Config) DashboardSnapshot {
	strat := provider.Strategy()
	riskMgr := provider.Risk()

	holdings := strat.Holdings()
	statuses := make([]HoldingStatus, 0, len(holdings.Symbols()))
	for _, symbol := range holdings.Symbols() {
		h, isOpen := holdings.Get(symbol)
		netDelta, _ := h.NetDeltaBase().Float64()
		spotQty, _ := h.SpotQty.Float64()
		spotAvg, _ := h.SpotAvgPrice.Float64()
		perpQty, _ := h.PerpQty.Float64()
		perpAvg, _ := h.PerpAvgPrice.Float64()
		statuses = append(statuses, HoldingStatus{
			Symbol:        string(symbol),
			SpotQty:       spotQty,
			SpotAvgPrice:  spotAvg,
			PerpQty:       perpQty,
			PerpAvgPrice:  perpAvg,
			NetDeltaBase:  netDelta,
			IsOpen:        isOpen,
			HoldPeriods:   h.HoldPeriods,
			OpenedAt:      h.OpenedAt,
			LastFundingAt: h.LastFundingAt,
		})
	}

	usedTotal, _ := holdings.UsedTotalNotional().Float64()
	maxTotal, _ := strat.Limits().MaxTotalNotional.Float64()

	return DashboardSnapshot{
		Timestamp: time.Now(),
		Holdings:  statuses,
		Risk: RiskSnapshot{
			KillSwitchActive:  riskMgr.IsKilled(),
			KillSwitchReason:  riskMgr.KillReason(),
			UsedTotalNotional: usedTotal,
			MaxTotalNotional:  maxTotal,
		},
		Config: NewConfigSummary(cfg),
	}
}
