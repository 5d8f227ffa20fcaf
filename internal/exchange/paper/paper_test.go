package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

type recordingSink struct {
	events []exchange.ExecutionEvent
}

func (r *recordingSink) OnExecutionEvent(_ context.Context, evt exchange.ExecutionEvent) {
	r.events = append(r.events, evt)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedBBO(e *Exchange, symbol exchange.Symbol, bid, ask string) {
	e.UpdateBBO(symbol, exchange.BBO{
		Symbol:    symbol,
		BidPrice:  d(bid),
		AskPrice:  d(ask),
		BidSize:   d("100"),
		AskSize:   d("100"),
		UpdatedAt: time.Now().UTC(),
	})
}

func TestMarketOrderFillsImmediatelyAtOppositeSide(t *testing.T) {
	t.Parallel()
	ex := New(nil, d("100000"))
	sink := &recordingSink{}
	ex.BindOMS(sink)
	seedBBO(ex, "BTCUSDT", "99.5", "100.5")

	order, err := ex.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          exchange.SideBuy,
		Type:          exchange.OrderTypeMarket,
		Qty:           d("1"),
		ClientOrderID: "m1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Status != string(exchange.StateFilled) {
		t.Fatalf("status = %v, want FILLED", order.Status)
	}
	if !order.AvgFillPrice.Equal(d("100.5")) {
		t.Fatalf("fill price = %s, want ask 100.5 for a buy", order.AvgFillPrice)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 execution event, got %d", len(sink.events))
	}
}

func TestLimitOrderRestsUntilBboCrosses(t *testing.T) {
	t.Parallel()
	ex := New(nil, d("100000"))
	sink := &recordingSink{}
	ex.BindOMS(sink)
	seedBBO(ex, "BTCUSDT", "99.5", "100.5")

	order, err := ex.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          exchange.SideBuy,
		Type:          exchange.OrderTypeLimit,
		Qty:           d("1"),
		Price:         d("99.0"), // below ask, does not cross
		ClientOrderID: "l1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Status != string(exchange.StateSent) {
		t.Fatalf("status = %v, want resting (SENT)", order.Status)
	}

	// BBO moves to cross the resting buy limit.
	seedBBO(ex, "BTCUSDT", "98.0", "99.0")

	orders, err := ex.GetOpenOrders(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	var found bool
	for _, o := range orders {
		if o.ClientOrderID == "l1" && o.Status == string(exchange.StateFilled) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected resting limit order to fill once the book crossed it")
	}
}

func TestSpotFillUpdatesUsdtAndBaseBalances(t *testing.T) {
	t.Parallel()
	ex := New(nil, d("1000"))
	ex.BindOMS(&recordingSink{})
	seedBBO(ex, "BTCUSDT_SPOT", "99.5", "100.5")

	_, err := ex.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:        "BTCUSDT_SPOT",
		Side:          exchange.SideBuy,
		Type:          exchange.OrderTypeMarket,
		Qty:           d("2"),
		ClientOrderID: "s1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	balances, _ := ex.GetBalances(context.Background())
	var usdt, btc decimal.Decimal
	for _, b := range balances {
		switch b.Asset {
		case "USDT":
			usdt = b.Total
		case "BTCUSDT":
			btc = b.Total
		}
	}
	wantUSDT := d("1000").Sub(d("2").Mul(d("100.5")))
	if !usdt.Equal(wantUSDT) {
		t.Errorf("USDT balance = %s, want %s", usdt, wantUSDT)
	}
	if !btc.Equal(d("2")) {
		t.Errorf("base balance = %s, want 2", btc)
	}
}

func TestPerpFillOpensWeightedEntryPosition(t *testing.T) {
	t.Parallel()
	ex := New(nil, d("100000"))
	ex.BindOMS(&recordingSink{})
	seedBBO(ex, "BTCUSDT", "99.5", "100.5")

	_, err := ex.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          exchange.SideSell,
		Type:          exchange.OrderTypeMarket,
		Qty:           d("3"),
		ClientOrderID: "p1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	positions, _ := ex.GetPositions(context.Background())
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if !positions[0].EntryPrice.Equal(d("99.5")) {
		t.Errorf("entry price = %s, want bid 99.5 for a sell", positions[0].EntryPrice)
	}
}

func TestCancelOrderEmitsCanceledEventOnce(t *testing.T) {
	t.Parallel()
	ex := New(nil, d("100000"))
	sink := &recordingSink{}
	ex.BindOMS(sink)
	seedBBO(ex, "BTCUSDT", "99.5", "100.5")

	_, err := ex.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          exchange.SideBuy,
		Type:          exchange.OrderTypeLimit,
		Qty:           d("1"),
		Price:         d("90"),
		ClientOrderID: "c1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if err := ex.CancelOrder(context.Background(), "BTCUSDT", "", "c1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if err := ex.CancelOrder(context.Background(), "BTCUSDT", "", "c1"); err != nil {
		t.Fatalf("second CancelOrder should be a no-op: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly 1 canceled event, got %d", len(sink.events))
	}
	if sink.events[0].Status != string(exchange.StateCanceled) {
		t.Errorf("status = %v, want CANCELED", sink.events[0].Status)
	}
}
