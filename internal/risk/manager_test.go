package risk

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testManager(cfg Config) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(cfg, logger)
}

func TestDailyPnlBreachTriggersKillOnce(t *testing.T) {
	t.Parallel()
	m := testManager(DefaultConfig())
	var flattenCalls int32
	m.SetFlattenAll(func(context.Context) error {
		atomic.AddInt32(&flattenCalls, 1)
		return nil
	})

	m.UpdateDailyPnL(decimal.NewFromInt(-200000))
	m.UpdateDailyPnL(decimal.NewFromInt(-300000)) // second breach should not re-fire

	if !m.IsKilled() {
		t.Fatal("expected kill after daily loss cut breach")
	}
	if !m.DisableNewOrders() {
		t.Fatal("expected new orders disabled after kill")
	}

	select {
	case <-m.KillCh():
	default:
		t.Fatal("expected a kill signal on KillCh")
	}

	// give the async flatten goroutine a moment
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&flattenCalls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&flattenCalls) != 1 {
		t.Fatalf("flattenAll called %d times, want exactly 1", flattenCalls)
	}
}

func TestWsDisconnectBelowThresholdDoesNotKill(t *testing.T) {
	t.Parallel()
	m := testManager(DefaultConfig())
	m.RecordWsDisconnected(5.0)
	if m.IsKilled() {
		t.Fatal("ws disconnect under threshold should not kill")
	}
}

func TestHedgeLatencyP95RequiresTwentySamples(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.HedgeDelayP95ThresholdSec = 1.0
	m := testManager(cfg)

	for i := 0; i < 19; i++ {
		m.RecordHedgeLatency(5.0) // all breach, but under the sample floor
	}
	if m.IsKilled() {
		t.Fatal("should not kill before 20 samples accumulate")
	}
	m.RecordHedgeLatency(5.0) // 20th sample crosses the floor
	if !m.IsKilled() {
		t.Fatal("expected kill once p95 over >=20 samples breaches threshold")
	}
}

func TestApiErrorBurstKills(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ApiErrorMaxIn60s = 3
	m := testManager(cfg)

	now := time.Now()
	for i := 0; i < 3; i++ {
		m.RecordAPIError(now)
	}
	if m.IsKilled() {
		t.Fatal("should not kill at exactly the threshold")
	}
	m.RecordAPIError(now)
	if !m.IsKilled() {
		t.Fatal("expected kill once error count exceeds threshold within the window")
	}
}

func TestFundingFlipRequiresConsecutiveObservations(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FundingFlipConsecutive = 2
	m := testManager(cfg)

	m.UpdateFundingPredicted("BTCUSDT", decimal.NewFromFloat(0.001))
	m.UpdateFundingPredicted("BTCUSDT", decimal.NewFromFloat(-0.001)) // 1st flip
	if m.IsKilled() {
		t.Fatal("should not kill on first flip observation when consecutive=2")
	}
	m.UpdateFundingPredicted("BTCUSDT", decimal.NewFromFloat(0.001)) // 2nd flip
	if !m.IsKilled() {
		t.Fatal("expected kill on second consecutive flip")
	}
}

func TestFundingFlipIgnoresNoiseBelowFloor(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FundingFlipMinAbs = decimal.NewFromFloat(0.0005)
	cfg.FundingFlipConsecutive = 1
	m := testManager(cfg)

	m.UpdateFundingPredicted("BTCUSDT", decimal.NewFromFloat(0.0001))
	m.UpdateFundingPredicted("BTCUSDT", decimal.NewFromFloat(-0.0001))
	if m.IsKilled() {
		t.Fatal("sign flip entirely within the noise floor should not kill")
	}
}

func TestFundingFlipSuppressedWhenFlat(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FundingFlipConsecutive = 1
	m := testManager(cfg)
	m.SetFlatProbe(func() decimal.Decimal { return decimal.Zero })

	m.UpdateFundingPredicted("BTCUSDT", decimal.NewFromFloat(0.001))
	m.UpdateFundingPredicted("BTCUSDT", decimal.NewFromFloat(-0.001))
	if m.IsKilled() {
		t.Fatal("funding flip kill should be suppressed when the flat probe reports zero exposure")
	}
}
