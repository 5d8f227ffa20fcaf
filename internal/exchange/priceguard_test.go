package exchange

import (
	"testing"
	"time"
)

func TestPriceGuardGoesReadyOnPlausibleFreshAnchor(t *testing.T) {
	t.Parallel()
	g := NewPriceGuard(DefaultPriceGuardConfig())
	now := time.Now()
	st := g.Observe("BTCUSDT", d("100"), d("101"), time.Second, true, now)
	if st.Status != PriceGuardReady {
		t.Fatalf("status = %s, want READY", st.Status)
	}
}

func TestPriceGuardStaysNoAnchorWithoutScaleReady(t *testing.T) {
	t.Parallel()
	g := NewPriceGuard(DefaultPriceGuardConfig())
	st := g.Observe("BTCUSDT", d("100"), d("101"), time.Second, false, time.Now())
	if st.Status != PriceGuardNoAnchor {
		t.Fatalf("status = %s, want NO_ANCHOR", st.Status)
	}
}

func TestPriceGuardFreezesOnImplausibleRatio(t *testing.T) {
	t.Parallel()
	g := NewPriceGuard(DefaultPriceGuardConfig())
	now := time.Now()
	g.Observe("BTCUSDT", d("100"), d("101"), time.Second, true, now)
	st := g.Observe("BTCUSDT", d("300"), d("101"), time.Second, true, now.Add(time.Second))
	if st.Status != PriceGuardFrozen {
		t.Fatalf("status = %s, want FROZEN after implausible ratio", st.Status)
	}
}

func TestPriceGuardRecoversFromFrozenOnPlausibleObservation(t *testing.T) {
	t.Parallel()
	g := NewPriceGuard(DefaultPriceGuardConfig())
	now := time.Now()
	g.Observe("BTCUSDT", d("100"), d("101"), time.Second, true, now)
	g.Observe("BTCUSDT", d("300"), d("101"), time.Second, true, now.Add(time.Second))
	st := g.Observe("BTCUSDT", d("100"), d("101"), time.Second, true, now.Add(2*time.Second))
	if st.Status != PriceGuardReady {
		t.Fatalf("status = %s, want READY after recovering from FROZEN", st.Status)
	}
}

func TestPriceGuardFrozenExpiresToNoAnchorAfterFreezeStaleMax(t *testing.T) {
	t.Parallel()
	cfg := DefaultPriceGuardConfig()
	cfg.FreezeStaleMax = 50 * time.Millisecond
	g := NewPriceGuard(cfg)
	now := time.Now()
	g.Observe("BTCUSDT", d("100"), d("101"), time.Second, true, now)
	g.Observe("BTCUSDT", d("300"), d("101"), time.Second, true, now.Add(time.Millisecond))
	st := g.Observe("BTCUSDT", d("300"), d("101"), time.Second, true, now.Add(time.Hour))
	if st.Status != PriceGuardNoAnchor {
		t.Fatalf("status = %s, want NO_ANCHOR after exceeding freeze_stale_max", st.Status)
	}
}
