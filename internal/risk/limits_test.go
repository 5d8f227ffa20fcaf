package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
)

func testLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxTotalNotional:  decimal.NewFromInt(100000),
		MaxSymbolNotional: decimal.NewFromInt(50000),
		MaxSlippageBps:    decimal.NewFromInt(20),
		MaxNetDelta:       decimal.NewFromFloat(0.5),
	}
}

func TestPrecheckOpenOrderPassesWithinAllLimits(t *testing.T) {
	t.Parallel()
	ctx := PreTradeContext{
		UsedTotalNotional:      decimal.NewFromInt(1000),
		UsedSymbolNotional:     decimal.NewFromInt(500),
		PredictedNetDeltaAfter: decimal.NewFromFloat(0.1),
		EstimatedSlippageBps:   decimal.NewFromInt(5),
	}
	if err := PrecheckOpenOrder("BTCUSDT", decimal.NewFromInt(1000), ctx, testLimitsConfig()); err != nil {
		t.Fatalf("expected no breach, got %v", err)
	}
}

func TestPrecheckOpenOrderRejectsTotalNotionalBreach(t *testing.T) {
	t.Parallel()
	ctx := PreTradeContext{UsedTotalNotional: decimal.NewFromInt(99500)}
	err := PrecheckOpenOrder("BTCUSDT", decimal.NewFromInt(1000), ctx, testLimitsConfig())
	if !core.Is(err, core.RiskBreach) {
		t.Fatalf("expected RiskBreach, got %v", err)
	}
}

func TestPrecheckOpenOrderRejectsSymbolNotionalBreach(t *testing.T) {
	t.Parallel()
	ctx := PreTradeContext{UsedSymbolNotional: decimal.NewFromInt(49500)}
	err := PrecheckOpenOrder("BTCUSDT", decimal.NewFromInt(1000), ctx, testLimitsConfig())
	if !core.Is(err, core.RiskBreach) {
		t.Fatalf("expected RiskBreach, got %v", err)
	}
}

func TestPrecheckOpenOrderRejectsSlippageBreach(t *testing.T) {
	t.Parallel()
	ctx := PreTradeContext{EstimatedSlippageBps: decimal.NewFromInt(25)}
	err := PrecheckOpenOrder("BTCUSDT", decimal.NewFromInt(10), ctx, testLimitsConfig())
	if !core.Is(err, core.RiskBreach) {
		t.Fatalf("expected RiskBreach, got %v", err)
	}
}

func TestPrecheckOpenOrderRejectsNetDeltaBreach(t *testing.T) {
	t.Parallel()
	ctx := PreTradeContext{PredictedNetDeltaAfter: decimal.NewFromFloat(0.75)}
	err := PrecheckOpenOrder("BTCUSDT", decimal.NewFromInt(10), ctx, testLimitsConfig())
	if !core.Is(err, core.RiskBreach) {
		t.Fatalf("expected RiskBreach, got %v", err)
	}
}
