package engine

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const tradingDaysPerYear = 252

// JSONFloat is a float64 that survives JSON round-trips even when
// non-finite: Inf and NaN are encoded as quoted strings, which plain
// encoding/json refuses to emit for float64.
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	default:
		return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
	}
}

func (f *JSONFloat) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"+Inf"`:
		*f = JSONFloat(math.Inf(1))
		return nil
	case `"-Inf"`:
		*f = JSONFloat(math.Inf(-1))
		return nil
	case `"NaN"`:
		*f = JSONFloat(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse JSONFloat: %w", err)
	}
	*f = JSONFloat(v)
	return nil
}

// MetricsReport summarizes a completed run. Ratio fields that cannot be
// computed honestly (too few points, no benchmark) are nil, never zero.
type MetricsReport struct {
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	TradingDays   int       `json:"trading_days"`
	InitialEquity float64   `json:"initial_equity"`
	FinalEquity   float64   `json:"final_equity"`

	TotalReturnPct   float64  `json:"total_return_pct"`
	AnnualizedVolPct *float64 `json:"annualized_vol_pct,omitempty"`
	Sharpe           *float64 `json:"sharpe,omitempty"`
	Sortino          *float64 `json:"sortino,omitempty"`
	Beta             *float64 `json:"beta,omitempty"`
	Alpha            *float64 `json:"alpha,omitempty"`

	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	MaxDrawdownDate time.Time `json:"max_drawdown_date"`

	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	WinRatePct    float64   `json:"win_rate_pct"`
	ProfitFactor  JSONFloat `json:"profit_factor"`

	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	LargestWin     float64 `json:"largest_win"`
	LargestLoss    float64 `json:"largest_loss"`
	MaxConsecWins  int     `json:"max_consecutive_wins"`
	MaxConsecLoses int     `json:"max_consecutive_losses"`
}

// MetricsCalculator computes risk-adjusted performance from an equity curve
// and trade log. The risk-free rate is annual and converted to a daily rate
// internally.
type MetricsCalculator struct {
	riskFreeAnnual float64
}

func NewMetricsCalculator(riskFreeAnnual float64) *MetricsCalculator {
	return &MetricsCalculator{riskFreeAnnual: riskFreeAnnual}
}

// Compute builds the full report. benchmark may be nil; beta and alpha are
// only produced when enough overlapping benchmark bars exist.
func (c *MetricsCalculator) Compute(equity []EquitySnapshot, trades []Trade, benchmark []Bar) MetricsReport {
	report := MetricsReport{}
	if len(equity) == 0 {
		return report
	}

	report.StartDate = equity[0].Date
	report.EndDate = equity[len(equity)-1].Date
	report.TradingDays = len(equity)
	report.InitialEquity = equity[0].TotalEquity
	report.FinalEquity = equity[len(equity)-1].TotalEquity
	if report.InitialEquity > 0 {
		report.TotalReturnPct = (report.FinalEquity/report.InitialEquity - 1) * 100
	}

	returns := dailyReturns(equity)
	rfDaily := c.riskFreeAnnual / tradingDaysPerYear

	if len(returns) >= 2 {
		mean, sd := meanStdev(returns)
		if sd > 0 {
			vol := sd * math.Sqrt(tradingDaysPerYear) * 100
			report.AnnualizedVolPct = &vol
			sharpe := (mean - rfDaily) / sd * math.Sqrt(tradingDaysPerYear)
			report.Sharpe = &sharpe
		}

		var downSq float64
		for _, r := range returns {
			if d := r - rfDaily; d < 0 {
				downSq += d * d
			}
		}
		if dd := math.Sqrt(downSq / float64(len(returns))); dd > 0 {
			sortino := (mean - rfDaily) / dd * math.Sqrt(tradingDaysPerYear)
			report.Sortino = &sortino
		}
	}

	report.MaxDrawdownPct, report.MaxDrawdownDate = maxDrawdown(equity)
	c.capm(&report, returns, equity, benchmark, rfDaily)
	c.tradeStats(&report, trades)
	return report
}

// capm aligns benchmark returns with portfolio returns by date and fills in
// beta and annualized alpha. Short or missing benchmarks leave both nil.
func (c *MetricsCalculator) capm(report *MetricsReport, portReturns []float64, equity []EquitySnapshot, benchmark []Bar, rfDaily float64) {
	if len(benchmark) < 3 || len(equity) < 3 {
		return
	}

	closes := make(map[time.Time]float64, len(benchmark))
	for _, b := range benchmark {
		closes[truncateDay(b.Date)] = b.Close
	}

	var rp, rb []float64
	for i := 1; i < len(equity); i++ {
		prev, okPrev := closes[truncateDay(equity[i-1].Date)]
		cur, okCur := closes[truncateDay(equity[i].Date)]
		if !okPrev || !okCur || prev <= 0 {
			continue
		}
		rp = append(rp, portReturns[i-1])
		rb = append(rb, cur/prev-1)
	}
	if len(rb) < 2 {
		return
	}

	meanP, _ := meanStdev(rp)
	meanB, _ := meanStdev(rb)

	var cov, varB float64
	for i := range rb {
		cov += (rp[i] - meanP) * (rb[i] - meanB)
		varB += (rb[i] - meanB) * (rb[i] - meanB)
	}
	cov /= float64(len(rb))
	varB /= float64(len(rb))
	if varB == 0 {
		return
	}

	beta := cov / varB
	alpha := (meanP - rfDaily - beta*(meanB-rfDaily)) * tradingDaysPerYear
	report.Beta = &beta
	report.Alpha = &alpha
}

func (c *MetricsCalculator) tradeStats(report *MetricsReport, trades []Trade) {
	var grossProfit, grossLoss float64
	var largestWin, largestLoss float64
	var streak, maxWinStreak, maxLossStreak int

	for _, t := range trades {
		if t.Action != ActionSell {
			continue
		}
		report.TotalTrades++

		switch {
		case t.PnL > 0:
			report.WinningTrades++
			grossProfit += t.PnL
			if t.PnL > largestWin {
				largestWin = t.PnL
			}
			if streak < 0 {
				streak = 0
			}
			streak++
			if streak > maxWinStreak {
				maxWinStreak = streak
			}
		case t.PnL < 0:
			report.LosingTrades++
			grossLoss += -t.PnL
			if t.PnL < largestLoss {
				largestLoss = t.PnL
			}
			if streak > 0 {
				streak = 0
			}
			streak--
			if -streak > maxLossStreak {
				maxLossStreak = -streak
			}
		default:
			streak = 0
		}
	}

	if report.TotalTrades > 0 {
		report.WinRatePct = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
	}
	switch {
	case grossLoss > 0:
		report.ProfitFactor = JSONFloat(grossProfit / grossLoss)
	case grossProfit > 0:
		report.ProfitFactor = JSONFloat(math.Inf(1))
	default:
		report.ProfitFactor = 0
	}
	if report.WinningTrades > 0 {
		report.AvgWin = grossProfit / float64(report.WinningTrades)
	}
	if report.LosingTrades > 0 {
		report.AvgLoss = -grossLoss / float64(report.LosingTrades)
	}
	report.LargestWin = largestWin
	report.LargestLoss = largestLoss
	report.MaxConsecWins = maxWinStreak
	report.MaxConsecLoses = maxLossStreak
}

func dailyReturns(equity []EquitySnapshot) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].TotalEquity
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i].TotalEquity/prev-1)
	}
	return out
}

func meanStdev(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

func maxDrawdown(equity []EquitySnapshot) (pct float64, date time.Time) {
	peak := equity[0].TotalEquity
	for _, snap := range equity {
		if snap.TotalEquity > peak {
			peak = snap.TotalEquity
		}
		if peak <= 0 {
			continue
		}
		dd := (snap.TotalEquity/peak - 1) * 100
		if dd < pct {
			pct = dd
			date = snap.Date
		}
	}
	return pct, date
}
