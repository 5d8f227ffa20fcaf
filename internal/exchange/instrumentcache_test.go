package exchange

import (
	"context"
	"testing"
	"time"
)

type fakeFetcher struct {
	calls int
	meta  InstrumentMeta
	err   error
}

func (f *fakeFetcher) FetchInstrumentMeta(ctx context.Context, symbol Symbol) (InstrumentMeta, error) {
	f.calls++
	if f.err != nil {
		return InstrumentMeta{}, f.err
	}
	m := f.meta
	m.Symbol = symbol
	return m, nil
}

func TestInstrumentCacheFetchesOnceWithinTTL(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{meta: InstrumentMeta{PriceTick: d("0.01"), QtyStep: d("0.001")}}
	c := NewInstrumentCache(f, time.Minute, 3, time.Second)

	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("Get #1 error: %v", err)
	}
	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("Get #2 error: %v", err)
	}
	if f.calls != 1 {
		t.Errorf("fetcher called %d times, want 1 (should serve from cache within TTL)", f.calls)
	}
}

func TestInstrumentCacheRefetchesAfterTTLExpires(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{meta: InstrumentMeta{PriceTick: d("0.01"), QtyStep: d("0.001")}}
	c := NewInstrumentCache(f, 10*time.Millisecond, 3, time.Second)

	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("Get #1 error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("Get #2 error: %v", err)
	}
	if f.calls != 2 {
		t.Errorf("fetcher called %d times, want 2 (TTL should have expired)", f.calls)
	}
}

func TestIsPriceScaleReadyAfterRequiredAgreements(t *testing.T) {
	t.Parallel()
	c := NewInstrumentCache(&fakeFetcher{}, time.Minute, 3, time.Hour)
	now := time.Now()
	if c.IsPriceScaleReady("BTCUSDT") {
		t.Fatal("should not be ready before any observations")
	}
	c.ObserveScale("BTCUSDT", d("100.12"), now)
	c.ObserveScale("BTCUSDT", d("100.34"), now)
	if c.IsPriceScaleReady("BTCUSDT") {
		t.Fatal("should not be ready after only 2 agreeing observations when required=3")
	}
	c.ObserveScale("BTCUSDT", d("100.56"), now)
	if !c.IsPriceScaleReady("BTCUSDT") {
		t.Fatal("should be ready after 3 agreeing observations")
	}
}

func TestIsPriceScaleReadyAfterMaxWaitEvenWithoutAgreement(t *testing.T) {
	t.Parallel()
	c := NewInstrumentCache(&fakeFetcher{}, time.Minute, 10, 5*time.Millisecond)
	start := time.Now()
	c.ObserveScale("BTCUSDT", d("100.1"), start)
	c.ObserveScale("BTCUSDT", d("100"), start.Add(10*time.Millisecond))
	if !c.IsPriceScaleReady("BTCUSDT") {
		t.Fatal("should be ready once max_wait has elapsed regardless of agreement count")
	}
}
