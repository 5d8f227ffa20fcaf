package report

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/audit"
)

func TestDailyReportsNoRoundTrips(t *testing.T) {
	out := Daily(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), audit.NewAggregator())
	if !strings.Contains(out, "No round trips recorded.") {
		t.Fatalf("expected a no-round-trips line, got:\n%s", out)
	}
	if !strings.Contains(out, "Daily Report") {
		t.Fatalf("expected a title line, got:\n%s", out)
	}
}

func TestDailyReportsKPIsAndPerSymbolBreakdown(t *testing.T) {
	agg := audit.NewAggregator()
	agg.Record(audit.RoundTrip{
		Symbol:           "BTCUSDT",
		SpotEntryPrice:   decimal.NewFromInt(100),
		PerpEntryPrice:   decimal.NewFromInt(100),
		SpotExitPrice:    decimal.NewFromInt(100),
		PerpExitPrice:    decimal.NewFromInt(100),
		Qty:              decimal.NewFromInt(1),
		FundingCollected: decimal.NewFromInt(10),
		FeesPaid:         decimal.NewFromInt(2),
		HoldPeriods:      3,
	})
	agg.Record(audit.RoundTrip{
		Symbol:           "ETHUSDT",
		SpotEntryPrice:   decimal.NewFromInt(50),
		PerpEntryPrice:   decimal.NewFromInt(50),
		SpotExitPrice:    decimal.NewFromInt(45),
		PerpExitPrice:    decimal.NewFromInt(55),
		Qty:              decimal.NewFromInt(2),
		FundingCollected: decimal.Zero,
		FeesPaid:         decimal.NewFromInt(1),
		HoldPeriods:      1,
	})

	out := Daily(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), agg)

	if !strings.Contains(out, "Round trips: 2") {
		t.Fatalf("expected round trip count line, got:\n%s", out)
	}
	if !strings.Contains(out, "| BTCUSDT |") || !strings.Contains(out, "| ETHUSDT |") {
		t.Fatalf("expected a per-symbol row for both symbols, got:\n%s", out)
	}
	if !strings.Contains(out, "Win rate:") {
		t.Fatalf("expected a win rate line, got:\n%s", out)
	}
	wantNetPnL := agg.TotalNetPnL().StringFixed(2)
	if !strings.Contains(out, wantNetPnL) {
		t.Fatalf("expected net pnl %s in report, got:\n%s", wantNetPnL, out)
	}
}
