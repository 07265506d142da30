package repository

import (
	"fmt"
	"math"
	"strings"

	"golang-backtest/internal/engine"
	"golang-backtest/pkg/utils"
)

// buildDecisionPrompt renders the bounded decision context into a prompt.
// Only the window snapshot, portfolio summary and active constraints are
// included; the model never sees anything past the decision date.
func buildDecisionPrompt(dc engine.DecisionContext) string {
	var b strings.Builder

	b.WriteString("You are a portfolio manager making one decision for one instrument.\n")
	fmt.Fprintf(&b, "Date: %s\nTicker: %s\n\n", utils.FormatDate(dc.Date), dc.Ticker)

	fmt.Fprintf(&b, "Cash available: %.2f\nTotal equity: %.2f\n", dc.Cash, dc.Equity)
	if dc.Position != nil {
		fmt.Fprintf(&b, "Open position: %.4f shares, cost basis %.4f, stop loss %.4f, take profit %.4f\n",
			dc.Position.Shares, dc.Position.CostBasis, dc.Position.StopLoss, dc.Position.TakeProfit)
	} else {
		b.WriteString("Open position: none\n")
	}

	fmt.Fprintf(&b, "\nConstraints: max %.0f%% of equity per position, max %.0f%% per sector, keep %.0f%% cash reserve.\n",
		dc.Constraints.MaxPositionPct*100, dc.Constraints.MaxSectorPct*100, dc.Constraints.MinCashReservePct*100)

	b.WriteString("\nRecent daily bars (date open high low close volume):\n")
	for _, bar := range dc.History {
		fmt.Fprintf(&b, "%s %.4f %.4f %.4f %.4f %.0f\n",
			utils.FormatDate(bar.Date), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}

	writeIndicators(&b, dc.History)

	b.WriteString(`
Respond with ONLY a JSON object, no prose, in exactly this schema:
{
  "action": "BUY" | "SELL" | "HOLD",
  "amount_usd": <number, required for BUY>,
  "sell_pct": <number in (0,100], required for SELL>,
  "limit_price": <number, optional>,
  "stop_loss": <number, optional>,
  "take_profit": <number, optional>,
  "confidence": <number in [0,1]>,
  "risk_tier": "LOW" | "MEDIUM" | "HIGH" | "EXTREME",
  "rationale": "<one sentence>"
}
`)
	return b.String()
}

func writeIndicators(b *strings.Builder, history []engine.Bar) {
	type indicator struct {
		name  string
		value float64
	}
	indicators := []indicator{
		{"SMA(20)", engine.SMA(history, 20)},
		{"EMA(12)", engine.EMA(history, 12)},
		{"RSI(14)", engine.RSI(history, 14)},
		{"ATR(14)", engine.ATR(history, 14)},
	}

	var lines []string
	for _, ind := range indicators {
		if math.IsNaN(ind.value) {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s=%.4f", ind.name, ind.value))
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("\nIndicators: " + strings.Join(lines, " ") + "\n")
}
