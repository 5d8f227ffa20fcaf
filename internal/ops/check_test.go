package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
	"github.com/yoyowasa/crypto-neutral-bot/internal/oms"
	"github.com/yoyowasa/crypto-neutral-bot/internal/risk"
)

type fakeGateway struct {
	openOrders []exchange.Order
}

func (g *fakeGateway) GetBalances(context.Context) ([]exchange.Balance, error)   { return nil, nil }
func (g *fakeGateway) GetPositions(context.Context) ([]exchange.Position, error) { return nil, nil }
func (g *fakeGateway) GetOpenOrders(context.Context, exchange.Symbol) ([]exchange.Order, error) {
	return g.openOrders, nil
}
func (g *fakeGateway) PlaceOrder(context.Context, exchange.OrderRequest) (exchange.Order, error) {
	return exchange.Order{}, nil
}
func (g *fakeGateway) CancelOrder(context.Context, exchange.Symbol, string, string) error { return nil }
func (g *fakeGateway) AmendOrder(context.Context, exchange.Symbol, string, string, *decimal.Decimal, *decimal.Decimal) (exchange.Order, error) {
	return exchange.Order{}, nil
}
func (g *fakeGateway) GetTicker(context.Context, exchange.Symbol) (exchange.BBO, error) {
	return exchange.BBO{}, nil
}
func (g *fakeGateway) GetFundingInfo(context.Context, exchange.Symbol) (exchange.FundingInfo, error) {
	return exchange.FundingInfo{}, nil
}
func (g *fakeGateway) GetInstrumentMeta(context.Context, exchange.Symbol) (exchange.InstrumentMeta, error) {
	return exchange.InstrumentMeta{}, nil
}
func (g *fakeGateway) SubscribePublic(context.Context, []exchange.Symbol) (<-chan exchange.BBO, error) {
	return nil, nil
}
func (g *fakeGateway) SubscribePrivate(context.Context) (<-chan exchange.ExecutionEvent, error) {
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckBuildsOneRowPerSymbolAndReflectsRiskKill(t *testing.T) {
	gw := &fakeGateway{openOrders: []exchange.Order{{Symbol: "BTCUSDT"}}}
	e := oms.New(gw, oms.DefaultStatusMap(), oms.DefaultConfig(), nil, nil, discardLogger())
	riskMgr := risk.NewManager(risk.DefaultConfig(), discardLogger())

	rows := Check(context.Background(), gw, e, riskMgr, []exchange.Symbol{"BTCUSDT", "ETHUSDT"})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].OpenOrders != 1 {
		t.Fatalf("open orders = %d, want 1", rows[0].OpenOrders)
	}
	if rows[0].RiskKilled {
		t.Fatal("expected risk_killed=false before any kill fires")
	}

	riskMgr.UpdateDailyPnL(decimal.NewFromInt(-1_000_000_000))
	rows = Check(context.Background(), gw, e, riskMgr, []exchange.Symbol{"BTCUSDT"})
	if !rows[0].RiskKilled {
		t.Fatal("expected risk_killed=true after a daily loss cut kill")
	}
	if rows[0].RiskKillReason == "" {
		t.Fatal("expected a non-empty risk_kill_reason")
	}
}

func TestWriteCSVAndWriteJSONRoundTrip(t *testing.T) {
	rows := []Row{{Symbol: "BTCUSDT", PriceScaleReady: true, BBOValid: true, OpenOrders: 2}}

	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.Contains(csvBuf.String(), "BTCUSDT") {
		t.Fatalf("csv output missing symbol: %q", csvBuf.String())
	}

	var jsonBuf bytes.Buffer
	if err := WriteJSON(&jsonBuf, rows); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded []Row
	if err := json.Unmarshal(jsonBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Symbol != "BTCUSDT" {
		t.Fatalf("decoded = %+v", decoded)
	}
}
