package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

func TestSaveAndLoadHoldings(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	snapshot := map[exchange.Symbol]exchange.Holding{
		"BTCUSDT": {
			Symbol:       "BTCUSDT",
			SpotQty:      decimal.NewFromFloat(0.5),
			SpotAvgPrice: decimal.NewFromInt(60000),
			PerpQty:      decimal.NewFromFloat(-0.5),
			PerpAvgPrice: decimal.NewFromInt(60010),
			OpenedAt:     time.Now().UTC(),
			HoldPeriods:  3,
		},
	}

	if err := s.Save(snapshot); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := loaded["BTCUSDT"]
	if !ok {
		t.Fatal("expected BTCUSDT in loaded snapshot")
	}
	if !got.SpotQty.Equal(snapshot["BTCUSDT"].SpotQty) {
		t.Errorf("SpotQty = %v, want %v", got.SpotQty, snapshot["BTCUSDT"].SpotQty)
	}
	if got.HoldPeriods != 3 {
		t.Errorf("HoldPeriods = %v, want 3", got.HoldPeriods)
	}
}

func TestLoadMissingReturnsEmptyMap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected non-nil empty map")
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty snapshot, got %d entries", len(loaded))
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	first := map[exchange.Symbol]exchange.Holding{"BTCUSDT": {Symbol: "BTCUSDT", SpotQty: decimal.NewFromInt(1)}}
	second := map[exchange.Symbol]exchange.Holding{"BTCUSDT": {Symbol: "BTCUSDT", SpotQty: decimal.NewFromInt(2)}}

	_ = s.Save(first)
	_ = s.Save(second)

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded["BTCUSDT"].SpotQty.Equal(decimal.NewFromInt(2)) {
		t.Errorf("SpotQty = %v, want 2 (latest save)", loaded["BTCUSDT"].SpotQty)
	}
}
