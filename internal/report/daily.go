// Package report renders the daily Markdown KPI summary (spec §6) from a
// completed set of round trips.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/audit"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// Daily renders a single day's Markdown KPI report: total net PnL, win
// rate, average hold periods, round-trip count, and a per-symbol PnL
// breakdown table.
func Daily(date time.Time, agg *audit.Aggregator) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Report — %s\n\n", date.Format("2006-01-02"))

	trips := agg.Trips()
	funding := agg.TotalFundingCollected()
	fees := agg.TotalFeesPaid()
	notional := agg.TotalNotionalTraded()

	fmt.Fprintf(&b, "- Round trips: %d\n", len(trips))
	fmt.Fprintf(&b, "- Net PnL: %s\n", agg.TotalNetPnL().StringFixed(2))
	fmt.Fprintf(&b, "- Win rate: %s%%\n", agg.WinRate().Mul(decimal.NewFromInt(100)).StringFixed(1))
	fmt.Fprintf(&b, "- Avg hold periods: %s\n", agg.AvgHoldPeriods().StringFixed(2))
	fmt.Fprintf(&b, "- Funding collected: %s\n", funding.StringFixed(2))
	fmt.Fprintf(&b, "- Fees paid: %s\n", fees.StringFixed(2))
	fmt.Fprintf(&b, "- Notional traded: %s\n", notional.StringFixed(2))
	if !notional.IsZero() {
		fmt.Fprintf(&b, "- Fee rate: %s bps\n", fees.Div(notional).Mul(decimal.NewFromInt(10000)).StringFixed(2))
	}
	if netPnL := agg.TotalNetPnL(); !netPnL.IsZero() {
		fmt.Fprintf(&b, "- Funding share of net PnL: %s%%\n", funding.Div(netPnL).Mul(decimal.NewFromInt(100)).StringFixed(1))
	}
	b.WriteString("\n")

	bySymbol := agg.BySymbol()
	if len(bySymbol) == 0 {
		b.WriteString("No round trips recorded.\n")
		return b.String()
	}

	symbols := make([]exchange.Symbol, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })

	b.WriteString("| Symbol | Net PnL |\n")
	b.WriteString("|---|---|\n")
	for _, sym := range symbols {
		fmt.Fprintf(&b, "| %s | %s |\n", sym, bySymbol[sym].StringFixed(2))
	}
	return b.String()
}
