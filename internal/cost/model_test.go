package cost

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

func TestTakerFeeSelectsTierBySymbolSuffix(t *testing.T) {
	m := DefaultModel()
	qty := decimal.NewFromInt(10)
	price := decimal.NewFromInt(100)

	spotFee := m.TakerFee("BTCUSDT_SPOT", qty, price)
	perpFee := m.TakerFee("BTCUSDT", qty, price)

	wantSpot := qty.Mul(price).Mul(m.SpotTakerFeeBps).Div(bps10k)
	wantPerp := qty.Mul(price).Mul(m.PerpTakerFeeBps).Div(bps10k)
	if !spotFee.Equal(wantSpot) {
		t.Fatalf("spot fee = %s, want %s", spotFee, wantSpot)
	}
	if !perpFee.Equal(wantPerp) {
		t.Fatalf("perp fee = %s, want %s", perpFee, wantPerp)
	}
}

func TestMarketFillPricePushesAgainstTaker(t *testing.T) {
	m := DefaultModel()
	bid := decimal.NewFromInt(100)
	ask := decimal.NewFromInt(101)

	buyPx := m.MarketFillPrice(&bid, &ask, exchange.SideBuy, decimal.Zero)
	if !buyPx.GreaterThan(ask) {
		t.Fatalf("buy fill price %s should be above ask %s (slippage pushes against taker)", buyPx, ask)
	}

	sellPx := m.MarketFillPrice(&bid, &ask, exchange.SideSell, decimal.Zero)
	if !sellPx.LessThan(bid) {
		t.Fatalf("sell fill price %s should be below bid %s (slippage pushes against taker)", sellPx, bid)
	}
}

func TestMarketFillPriceFallsBackWithoutBBO(t *testing.T) {
	m := DefaultModel()
	fallback := decimal.NewFromInt(50)
	px := m.MarketFillPrice(nil, nil, exchange.SideBuy, fallback)
	if !px.Equal(fallback) {
		t.Fatalf("px = %s, want fallback %s", px, fallback)
	}
}

func TestRoundtripCostQuoteSumsFourLegs(t *testing.T) {
	m := DefaultModel()
	notional := decimal.NewFromInt(10000)

	got := m.RoundtripCostQuote(notional)

	feeBpsTotal := m.SpotTakerFeeBps.Add(m.PerpTakerFeeBps).Mul(decimal.NewFromInt(2))
	slipBpsTotal := m.SlippageBps.Add(m.ExtraSpreadBps).Mul(decimal.NewFromInt(4))
	want := notional.Mul(feeBpsTotal.Add(slipBpsTotal)).Div(bps10k)
	if !got.Equal(want) {
		t.Fatalf("roundtrip cost = %s, want %s", got, want)
	}
}

func TestSlippageCostIsNonNegativeForNegativeNotional(t *testing.T) {
	m := DefaultModel()
	got := m.SlippageCost(decimal.NewFromInt(-500))
	if got.IsNegative() {
		t.Fatalf("slippage cost = %s, want non-negative", got)
	}
}
