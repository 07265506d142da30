package engine

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatCurve(values ...float64) []EquitySnapshot {
	curve := make([]EquitySnapshot, len(values))
	d := day(2024, 1, 1)
	for i, v := range values {
		curve[i] = EquitySnapshot{Date: d.AddDate(0, 0, i), Cash: v, TotalEquity: v}
	}
	return curve
}

func sellTrade(pnl float64) Trade {
	return Trade{Action: ActionSell, PnL: pnl}
}

func TestComputeEmptyCurve(t *testing.T) {
	c := NewMetricsCalculator(0.05)
	report := c.Compute(nil, nil, nil)
	assert.Zero(t, report.TradingDays)
	assert.Nil(t, report.Sharpe)
}

func TestComputeTotalReturnAndDrawdown(t *testing.T) {
	c := NewMetricsCalculator(0.05)
	curve := flatCurve(10000, 11000, 9900, 10500, 12000)

	report := c.Compute(curve, nil, nil)

	assert.InDelta(t, 20, report.TotalReturnPct, 1e-9)
	assert.InDelta(t, (9900.0/11000.0-1)*100, report.MaxDrawdownPct, 1e-9)
	assert.Equal(t, day(2024, 1, 3), report.MaxDrawdownDate)
	assert.Equal(t, 5, report.TradingDays)
	require.NotNil(t, report.Sharpe)
	require.NotNil(t, report.AnnualizedVolPct)
}

func TestSharpeNilOnFlatEquity(t *testing.T) {
	c := NewMetricsCalculator(0.05)
	report := c.Compute(flatCurve(10000, 10000, 10000), nil, nil)

	assert.Nil(t, report.Sharpe, "zero variance cannot produce a Sharpe")
	assert.Nil(t, report.AnnualizedVolPct)
}

func TestSortinoNilWithoutDownside(t *testing.T) {
	c := NewMetricsCalculator(0)
	report := c.Compute(flatCurve(10000, 10100, 10250, 10400), nil, nil)

	assert.Nil(t, report.Sortino)
	assert.NotNil(t, report.Sharpe)
}

func TestTradeStats(t *testing.T) {
	c := NewMetricsCalculator(0.05)
	trades := []Trade{
		{Action: ActionBuy},
		sellTrade(100),
		sellTrade(50),
		sellTrade(-30),
		sellTrade(200),
		sellTrade(-70),
		sellTrade(-10),
	}

	report := c.Compute(flatCurve(10000, 10240), trades, nil)

	assert.Equal(t, 6, report.TotalTrades, "buys are entries, only sells realize outcomes")
	assert.Equal(t, 3, report.WinningTrades)
	assert.Equal(t, 3, report.LosingTrades)
	assert.InDelta(t, 50, report.WinRatePct, 1e-9)
	assert.InDelta(t, 350.0/110.0, float64(report.ProfitFactor), 1e-9)
	assert.InDelta(t, 350.0/3.0, report.AvgWin, 1e-9)
	assert.InDelta(t, -110.0/3.0, report.AvgLoss, 1e-9)
	assert.InDelta(t, 200, report.LargestWin, 1e-9)
	assert.InDelta(t, -70, report.LargestLoss, 1e-9)
	assert.Equal(t, 2, report.MaxConsecWins)
	assert.Equal(t, 2, report.MaxConsecLoses)
}

func TestProfitFactorInfiniteWithoutLosses(t *testing.T) {
	c := NewMetricsCalculator(0.05)
	report := c.Compute(flatCurve(10000, 10100), []Trade{sellTrade(100)}, nil)

	assert.True(t, math.IsInf(float64(report.ProfitFactor), 1))

	// And it must survive a JSON round-trip, which float64 alone cannot.
	data, err := json.Marshal(report)
	require.NoError(t, err)
	var back MetricsReport
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsInf(float64(back.ProfitFactor), 1))
}

func TestCAPMAgainstBenchmark(t *testing.T) {
	c := NewMetricsCalculator(0)
	curve := flatCurve(10000, 10200, 10098, 10300)

	// Benchmark moves exactly like the portfolio: beta 1, alpha 0.
	benchmark := []Bar{
		{Date: day(2024, 1, 1), Open: 100, High: 100, Low: 100, Close: 100},
		{Date: day(2024, 1, 2), Open: 102, High: 102, Low: 102, Close: 102},
		{Date: day(2024, 1, 3), Open: 101, High: 101, Low: 101, Close: 100.98},
		{Date: day(2024, 1, 4), Open: 103, High: 103, Low: 103, Close: 103},
	}

	report := c.Compute(curve, nil, benchmark)
	require.NotNil(t, report.Beta)
	require.NotNil(t, report.Alpha)
	assert.InDelta(t, 1.0, *report.Beta, 1e-6)
	assert.InDelta(t, 0.0, *report.Alpha, 1e-6)
}

func TestCAPMNilWithoutBenchmark(t *testing.T) {
	c := NewMetricsCalculator(0.05)
	report := c.Compute(flatCurve(10000, 10100, 10200, 10300), nil, nil)
	assert.Nil(t, report.Beta, "missing benchmark must not become beta zero")
	assert.Nil(t, report.Alpha)

	short := []Bar{{Date: day(2024, 1, 1), Open: 1, High: 1, Low: 1, Close: 1}}
	report = c.Compute(flatCurve(10000, 10100, 10200, 10300), nil, short)
	assert.Nil(t, report.Beta)
}

func TestJSONFloatRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value float64
	}{
		{name: "finite", value: 1.75},
		{name: "positive infinity", value: math.Inf(1)},
		{name: "negative infinity", value: math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(JSONFloat(tt.value))
			require.NoError(t, err)

			var back JSONFloat
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.value, float64(back))
		})
	}

	data, err := json.Marshal(JSONFloat(math.NaN()))
	require.NoError(t, err)
	var back JSONFloat
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsNaN(float64(back)))
}
