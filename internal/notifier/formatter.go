package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"SpikeTrader/internal/model"
)

// FormatEntry reports a submitted entry and its protective stop.
func FormatEntry(strategy string, intent model.OrderIntent) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🟢 <b>Entry</b> | %s\n\n", strategy))
	b.WriteString(fmt.Sprintf("Symbol: %s\n", intent.Symbol))
	b.WriteString(fmt.Sprintf("Qty: %.0f @ ~%.2f\n", intent.Qty, intent.Price))
	b.WriteString(fmt.Sprintf("Cost: $%.2f\n", intent.Cost))
	b.WriteString(fmt.Sprintf("Trailing stop: %.2f%%\n", intent.TrailPercent))
	return b.String()
}

// FormatStopFailed warns that an entry went out without its trailing stop.
func FormatStopFailed(strategy, symbol string, err error) string {
	return fmt.Sprintf("⚠️ <b>Unprotected position</b> | %s\n\n%s entry was submitted but the trailing stop failed:\n%s",
		strategy, symbol, html.EscapeString(err.Error()))
}

// FormatExit reports a position closed for profit.
func FormatExit(strategy string, pos model.Position) string {
	return fmt.Sprintf("💰 <b>Take profit</b> | %s\n\n%s qty %.0f\nUnrealized P/L: $%+.2f",
		strategy, pos.Symbol, pos.Qty, pos.UnrealizedPL)
}

// FormatSession reports a session start or end.
func FormatSession(started bool, strategies []string, at time.Time) string {
	if started {
		return fmt.Sprintf("📈 <b>Session started</b> | %s\n\nStrategies: %s",
			at.Format("2006-01-02 15:04"), strings.Join(strategies, ", "))
	}
	return fmt.Sprintf("📉 <b>Session ended</b> | %s", at.Format("2006-01-02 15:04"))
}

// FormatStatus summarizes the account and per-strategy opportunity counts.
func FormatStatus(acct model.AccountSnapshot, clock model.Clock, opportunities map[string]int) string {
	var b strings.Builder
	b.WriteString("📦 <b>Status</b>\n\n")
	if clock.IsOpen {
		b.WriteString(fmt.Sprintf("Market: open (closes %s)\n", clock.NextClose.Format("15:04")))
	} else {
		b.WriteString(fmt.Sprintf("Market: closed (opens %s)\n", clock.NextOpen.Format("2006-01-02 15:04")))
	}
	b.WriteString(fmt.Sprintf("Cash: $%.2f\n", acct.Cash))
	b.WriteString(fmt.Sprintf("Buying power: $%.2f\n", acct.BuyingPower))
	b.WriteString(fmt.Sprintf("Trading blocked: %v\n", acct.TradingBlocked))

	names := make([]string, 0, len(opportunities))
	for n := range opportunities {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) > 0 {
		b.WriteString("\nOpportunities this run:\n")
		for _, n := range names {
			b.WriteString(fmt.Sprintf("  %s: %d\n", n, opportunities[n]))
		}
	}
	return b.String()
}

// FormatPositions lists open positions.
func FormatPositions(positions []model.Position) string {
	if len(positions) == 0 {
		return "No open positions."
	}
	var b strings.Builder
	b.WriteString("📊 <b>Positions</b>\n\n")
	var total float64
	for _, p := range positions {
		b.WriteString(fmt.Sprintf("%s: %.0f | $%.2f | P/L %+.2f\n", p.Symbol, p.Qty, p.MarketValue, p.UnrealizedPL))
		total += p.UnrealizedPL
	}
	b.WriteString(fmt.Sprintf("  ─────────────────\n  Total P/L: %+.2f", total))
	return b.String()
}
