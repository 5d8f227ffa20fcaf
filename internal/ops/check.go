// Package ops produces the operational health snapshot (spec §6): one row
// per configured symbol reporting gateway/risk readiness, exportable as
// CSV or JSON for a cron-driven health check.
package ops

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
	"github.com/yoyowasa/crypto-neutral-bot/internal/oms"
	"github.com/yoyowasa/crypto-neutral-bot/internal/risk"
)

// gatewayHealth is the subset of exchange.LiveGateway's extra surface an
// ops check reads; a plain exchange.Gateway (or the paper exchange) simply
// reports every symbol ready, mirroring strategy's marketDataGateway
// pattern.
type gatewayHealth interface {
	IsPriceScaleReady(symbol exchange.Symbol) bool
	PriceGuardState(symbol exchange.Symbol) exchange.PriceGuardState
	BBOValid(symbol exchange.Symbol) bool
}

// Row is one symbol's health snapshot.
type Row struct {
	Symbol          exchange.Symbol `json:"symbol"`
	PriceScaleReady bool            `json:"price_scale_ready"`
	PriceGuardState string          `json:"price_guard_state"`
	BBOValid        bool            `json:"bbo_valid"`
	OpenOrders      int             `json:"open_orders"`
	CooldownSec     float64         `json:"cooldown_seconds"`
	RiskKilled      bool            `json:"risk_killed"`
	RiskKillReason  string          `json:"risk_kill_reason,omitempty"`
	CheckedAt       time.Time       `json:"checked_at"`
}

// Check builds one Row per symbol against gw/engine/riskMgr's current
// state, the way a deployment's health-check cron would call it.
func Check(ctx context.Context, gw exchange.Gateway, engine *oms.Engine, riskMgr *risk.Manager, symbols []exchange.Symbol) []Row {
	now := time.Now().UTC()
	health, hasHealth := gw.(gatewayHealth)

	rows := make([]Row, 0, len(symbols))
	for _, symbol := range symbols {
		row := Row{Symbol: symbol, CheckedAt: now}
		if hasHealth {
			row.PriceScaleReady = health.IsPriceScaleReady(symbol)
			row.PriceGuardState = string(health.PriceGuardState(symbol).Status)
			row.BBOValid = health.BBOValid(symbol)
		} else {
			row.PriceScaleReady = true
			row.PriceGuardState = string(exchange.PriceGuardReady)
			row.BBOValid = true
		}
		if orders, err := gw.GetOpenOrders(ctx, symbol); err == nil {
			row.OpenOrders = len(orders)
		}
		row.CooldownSec = engine.CooldownRemaining(symbol).Seconds()
		row.RiskKilled = riskMgr.IsKilled()
		row.RiskKillReason = riskMgr.KillReason()
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes rows as CSV to w.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()
	header := []string{"symbol", "price_scale_ready", "price_guard_state", "bbo_valid", "open_orders", "cooldown_seconds", "risk_killed", "risk_kill_reason", "checked_at"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			string(r.Symbol),
			fmt.Sprintf("%t", r.PriceScaleReady),
			r.PriceGuardState,
			fmt.Sprintf("%t", r.BBOValid),
			fmt.Sprintf("%d", r.OpenOrders),
			fmt.Sprintf("%.3f", r.CooldownSec),
			fmt.Sprintf("%t", r.RiskKilled),
			r.RiskKillReason,
			r.CheckedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes rows as a JSON array to w.
func WriteJSON(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
