package audit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/cost"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// A full open-then-close sequence on one symbol emits exactly one round
// trip whose closed qty matches the entry qty, whose gross PnL is the price
// move times qty, and whose hold time spans the two fills. Fees are zeroed
// here so only the gross figure is checked.
func TestFillAccumulatorEmitsRoundTripOnFullClose(t *testing.T) {
	var trips []FillRoundTrip
	acc := NewFillAccumulator(cost.Model{SpotTakerFeeBps: decimal.Zero, PerpTakerFeeBps: decimal.Zero, SlippageBps: decimal.Zero, ExtraSpreadBps: decimal.Zero}, func(ft FillRoundTrip) {
		trips = append(trips, ft)
	})

	t0 := time.Now()
	acc.OnFill("BTCUSDT", exchange.SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(100), t0)
	if len(trips) != 0 {
		t.Fatalf("no round trip should emit before the open leg closes")
	}

	t1 := t0.Add(time.Minute)
	acc.OnFill("BTCUSDT", exchange.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(110), t1)

	if len(trips) != 1 {
		t.Fatalf("expected 1 round trip, got %d", len(trips))
	}
	trip := trips[0]
	if trip.Direction != DirectionLong {
		t.Fatalf("direction = %v, want long", trip.Direction)
	}
	if !trip.Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("qty = %s, want 1", trip.Qty)
	}
	wantGross := decimal.NewFromInt(10) // (110-100)*1
	if !trip.GrossPnL.Equal(wantGross) {
		t.Fatalf("gross pnl = %s, want %s", trip.GrossPnL, wantGross)
	}
	if trip.HoldSecs < 59 || trip.HoldSecs > 61 {
		t.Fatalf("hold secs = %v, want ~60", trip.HoldSecs)
	}
}

// Same-sign fills widen the open leg via a weighted-average entry price
// rather than emitting separate round trips.
func TestFillAccumulatorWeightsSameSignEntries(t *testing.T) {
	var trips []FillRoundTrip
	acc := NewFillAccumulator(cost.DefaultModel(), func(ft FillRoundTrip) { trips = append(trips, ft) })

	t0 := time.Now()
	acc.OnFill("ETHUSDT", exchange.SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(100), t0)
	acc.OnFill("ETHUSDT", exchange.SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(120), t0)
	// Weighted average entry should be 110 across qty=2.
	acc.OnFill("ETHUSDT", exchange.SideSell, decimal.NewFromInt(2), decimal.NewFromInt(130), t0.Add(time.Second))

	if len(trips) != 1 {
		t.Fatalf("expected 1 round trip, got %d", len(trips))
	}
	if !trips[0].EntryAvgPx.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("entry avg px = %s, want 110", trips[0].EntryAvgPx)
	}
	if !trips[0].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("qty = %s, want 2", trips[0].Qty)
	}
}

// A closing fill larger than the remaining open quantity flips direction:
// it closes the existing leg and opens a fresh one with the overshoot,
// priced at the same fill.
func TestFillAccumulatorFlipOpensNewRoundWithRemainder(t *testing.T) {
	var trips []FillRoundTrip
	acc := NewFillAccumulator(cost.Model{}, func(ft FillRoundTrip) { trips = append(trips, ft) })

	t0 := time.Now()
	acc.OnFill("BTCUSDT", exchange.SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(100), t0)
	acc.OnFill("BTCUSDT", exchange.SideSell, decimal.NewFromInt(3), decimal.NewFromInt(105), t0.Add(time.Second))

	if len(trips) != 1 {
		t.Fatalf("expected 1 round trip from the close of the original long, got %d", len(trips))
	}
	if trips[0].Direction != DirectionLong {
		t.Fatalf("direction = %v, want long", trips[0].Direction)
	}

	leg, ok := acc.legs["BTCUSDT"]
	if !ok {
		t.Fatal("expected a fresh short leg opened from the overshoot")
	}
	if leg.sign != -1 {
		t.Fatalf("leg sign = %d, want -1 (short)", leg.sign)
	}
	if !leg.entryQty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("remainder qty = %s, want 2", leg.entryQty)
	}
}

// Different symbols accumulate independently.
func TestFillAccumulatorTracksSymbolsIndependently(t *testing.T) {
	acc := NewFillAccumulator(cost.Model{}, nil)
	t0 := time.Now()
	acc.OnFill("BTCUSDT", exchange.SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(100), t0)
	acc.OnFill("ETHUSDT", exchange.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(50), t0)

	if len(acc.legs) != 2 {
		t.Fatalf("expected 2 independent open legs, got %d", len(acc.legs))
	}
}
