package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewClient(ClientConfig{DryRun: true, BaseURL: "http://localhost"}, logger)
}

func TestDryRunPlaceOrderReturnsSyntheticOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	order, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          SideBuy,
		Type:          OrderTypeMarket,
		Qty:           decimal.NewFromInt(1),
		ClientOrderID: "cid-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.ClientOrderID != "cid-1" {
		t.Errorf("ClientOrderID = %q, want cid-1", order.ClientOrderID)
	}
	if order.Status != "New" {
		t.Errorf("Status = %q, want New", order.Status)
	}
}

func TestDryRunCancelOrderAlwaysSucceeds(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelOrder(context.Background(), "BTCUSDT", "oid-1", "cid-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestVenueSymbolStripsSpotSuffix(t *testing.T) {
	t.Parallel()
	if got := venueSymbol("BTCUSDT_SPOT"); got != "BTCUSDT" {
		t.Errorf("venueSymbol(spot) = %q, want BTCUSDT", got)
	}
	if got := venueSymbol("BTCUSDT"); got != "BTCUSDT" {
		t.Errorf("venueSymbol(perp) = %q, want BTCUSDT", got)
	}
}

func TestVenueOrderPayloadCarriesTimeInForce(t *testing.T) {
	t.Parallel()
	payload := venueOrderPayload(OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          SideSell,
		Type:          OrderTypeLimit,
		Qty:           decimal.NewFromInt(2),
		Price:         decimal.NewFromFloat(100.5),
		TimeInForce:   TimeInForcePostOnly,
		ClientOrderID: "cid-2",
	})
	if payload["timeInForce"] != "PostOnly" {
		t.Errorf("timeInForce = %v, want PostOnly", payload["timeInForce"])
	}
	if payload["side"] != "Sell" {
		t.Errorf("side = %v, want Sell", payload["side"])
	}
	if payload["price"] != "100.5" {
		t.Errorf("price = %v, want 100.5", payload["price"])
	}
}

func TestParseEpochMillisRoundTrips(t *testing.T) {
	t.Parallel()
	got := parseEpochMillis("1700000000000")
	want := time.UnixMilli(1700000000000).UTC()
	if !got.Equal(want) {
		t.Errorf("parseEpochMillis = %v, want %v", got, want)
	}
}

func TestParseEpochMillisEmptyOrInvalidIsZero(t *testing.T) {
	t.Parallel()
	if got := parseEpochMillis(""); !got.IsZero() {
		t.Errorf("parseEpochMillis(\"\") = %v, want zero", got)
	}
	if got := parseEpochMillis("not-a-number"); !got.IsZero() {
		t.Errorf("parseEpochMillis(garbage) = %v, want zero", got)
	}
}

func TestComputeNextFundingTimeTrustsFutureVenueValue(t *testing.T) {
	t.Parallel()
	future := core.Now().Add(2 * time.Hour)
	got := computeNextFundingTime(480, future)
	if !got.Equal(future) {
		t.Errorf("computeNextFundingTime = %v, want venue value %v", got, future)
	}
}

func TestComputeNextFundingTimeEstimatesWhenMissingOrPast(t *testing.T) {
	t.Parallel()
	now := core.Now()

	got := computeNextFundingTime(480, time.Time{})
	if !got.After(now) {
		t.Errorf("computeNextFundingTime(missing) = %v, want a time after %v", got, now)
	}

	past := now.Add(-10 * time.Minute)
	gotPast := computeNextFundingTime(480, past)
	if !gotPast.After(now) {
		t.Errorf("computeNextFundingTime(past) = %v, want a time after %v", gotPast, now)
	}
}

// Builds FundingInfo with the same computeNextFundingTime(480,
// parseEpochMillis(...)) expression GetFundingInfo uses, here for a venue
// response whose nextFundingTime is empty; GetFundingInfo itself is not
// called.
func TestGetFundingInfoAlwaysSetsNextFundingTime(t *testing.T) {
	t.Parallel()
	rate, _ := decimal.NewFromString("0.0001")
	info := FundingInfo{
		Symbol:              "BTCUSDT",
		CurrentRate:         rate,
		PredictedRate:       rate,
		NextFundingTime:     computeNextFundingTime(480, parseEpochMillis("")),
		FundingIntervalHour: decimal.NewFromInt(8),
	}
	if info.NextFundingTime.IsZero() {
		t.Error("NextFundingTime must never be zero, Strategy.Evaluate's hasRate gate depends on it")
	}
}

func TestIsDuplicateOrUncertainRecognisesDuplicateCode(t *testing.T) {
	t.Parallel()
	if !isDuplicateOrUncertain(nil, 10001, "order link id exists") {
		t.Error("expected duplicate order-link-id to be treated as uncertain/duplicate")
	}
	if isDuplicateOrUncertain(nil, 0, "") {
		t.Error("a clean success should not be treated as duplicate/uncertain")
	}
}

func TestAuthPreflightFailsWithoutCredentials(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()
	ok, msg := c.AuthPreflight(context.Background())
	if ok {
		t.Error("expected AuthPreflight to fail without credentials")
	}
	if msg == "" {
		t.Error("expected a non-empty failure message")
	}
}
