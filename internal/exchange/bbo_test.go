package exchange

import (
	"testing"
	"time"
)

func TestBBOCacheValidRequiresFreshBothSides(t *testing.T) {
	t.Parallel()
	c := NewBBOCache(3 * time.Second)
	if c.Valid("BTCUSDT") {
		t.Error("empty cache should not be valid")
	}

	c.Update(BBO{Symbol: "BTCUSDT", BidPrice: d("100.0"), AskPrice: d("100.1"), UpdatedAt: time.Now()})
	if !c.Valid("BTCUSDT") {
		t.Error("fresh two-sided BBO should be valid")
	}
}

func TestBBOCacheInvalidWhenStale(t *testing.T) {
	t.Parallel()
	c := NewBBOCache(10 * time.Millisecond)
	c.Update(BBO{Symbol: "ETHUSDT", BidPrice: d("10"), AskPrice: d("10.1"), UpdatedAt: time.Now().Add(-time.Second)})
	if c.Valid("ETHUSDT") {
		t.Error("stale BBO should not be valid")
	}
}

func TestBBOCacheInvalidWithOneSidedBook(t *testing.T) {
	t.Parallel()
	c := NewBBOCache(time.Second)
	c.Update(BBO{Symbol: "BTCUSDT", BidPrice: d("100.0"), UpdatedAt: time.Now()})
	if c.Valid("BTCUSDT") {
		t.Error("one-sided BBO (zero ask) should not be valid")
	}
}
