package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T) *TradeExecutor {
	t.Helper()
	e, err := NewTradeExecutor(0.001, 1)
	require.NoError(t, err)
	return e
}

func advancedWindow(t *testing.T, bars []Bar, to int) *MarketWindow {
	t.Helper()
	w, err := NewMarketWindow("ABEO", bars)
	require.NoError(t, err)
	for i := 0; i <= to; i++ {
		_, ok := w.AdvanceTo(bars[i].Date)
		require.True(t, ok)
	}
	return w
}

func TestExecutorRoundTripScenario(t *testing.T) {
	// Buy 10 at 100 with a 0.1% fee, then gap down through the stop at 90.
	bars := []Bar{
		{Date: day(2024, 3, 4), Open: 100, High: 105, Low: 99, Close: 102, Volume: 1000},
		{Date: day(2024, 3, 5), Open: 95, High: 96, Low: 85, Close: 88, Volume: 1500},
	}
	e := newExecutor(t)
	p := freshPortfolio(t, 10000)

	w := advancedWindow(t, bars, 0)
	trade, err := e.Apply(Decision{Action: ActionBuy, Ticker: "ABEO", Shares: 10, StopLoss: 90}, w, p, "Biotech")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.InDelta(t, 100, trade.Price, 1e-9)
	assert.InDelta(t, 1, trade.Fee, 1e-9)
	assert.InDelta(t, 8999, p.Cash(), 1e-9)

	_, ok := w.AdvanceTo(bars[1].Date)
	require.True(t, ok)

	triggered, err := e.CheckTriggers(w, p)
	require.NoError(t, err)
	require.Len(t, triggered, 1)

	exit := triggered[0]
	assert.Equal(t, ActionSell, exit.Action)
	assert.Equal(t, TriggerStopLoss, exit.Trigger)
	assert.InDelta(t, 90, exit.Price, 1e-9, "open above the stop fills at the stop, not the low")
	assert.InDelta(t, 0.9, exit.Fee, 1e-9)
	assert.InDelta(t, 9898.10, p.Cash(), 1e-6)

	_, held := p.Position("ABEO")
	assert.False(t, held)

	snap, err := p.Snapshot(bars[1].Date, map[string]float64{"ABEO": bars[1].Close})
	require.NoError(t, err)
	assert.InDelta(t, 9898.10, snap.TotalEquity, 1e-6)
}

func TestCheckTriggersGapOpenFillsAtOpen(t *testing.T) {
	bars := []Bar{
		{Date: day(2024, 3, 4), Open: 100, High: 105, Low: 99, Close: 102, Volume: 1000},
		{Date: day(2024, 3, 5), Open: 88, High: 92, Low: 85, Close: 91, Volume: 1500},
	}
	e := newExecutor(t)
	p := freshPortfolio(t, 10000)
	_, err := p.Buy(day(2024, 3, 4), "ABEO", "Biotech", 10, 100, 1, 90, 0, TriggerManual, "")
	require.NoError(t, err)

	w := advancedWindow(t, bars, 1)
	triggered, err := e.CheckTriggers(w, p)
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.InDelta(t, 88, triggered[0].Price, 1e-9, "gap through the stop fills at the open")
}

func TestCheckTriggersTakeProfit(t *testing.T) {
	bars := []Bar{
		{Date: day(2024, 3, 4), Open: 100, High: 105, Low: 99, Close: 102, Volume: 1000},
		{Date: day(2024, 3, 5), Open: 108, High: 121, Low: 107, Close: 118, Volume: 1500},
	}
	e := newExecutor(t)
	p := freshPortfolio(t, 10000)
	_, err := p.Buy(day(2024, 3, 4), "ABEO", "Biotech", 10, 100, 1, 80, 120, TriggerManual, "")
	require.NoError(t, err)

	w := advancedWindow(t, bars, 1)
	triggered, err := e.CheckTriggers(w, p)
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, TriggerTakeProfit, triggered[0].Trigger)
	assert.InDelta(t, 120, triggered[0].Price, 1e-9)
}

func TestCheckTriggersNoPositionOrNoBreach(t *testing.T) {
	bars := testBars()
	e := newExecutor(t)
	p := freshPortfolio(t, 10000)

	w := advancedWindow(t, bars, 0)
	triggered, err := e.CheckTriggers(w, p)
	require.NoError(t, err)
	assert.Empty(t, triggered)

	_, err = p.Buy(bars[0].Date, "ABEO", "Biotech", 10, 100, 1, 50, 500, TriggerManual, "")
	require.NoError(t, err)
	triggered, err = e.CheckTriggers(w, p)
	require.NoError(t, err)
	assert.Empty(t, triggered, "levels far from the bar never trigger")
}

func TestApplyLimitBuy(t *testing.T) {
	bar := Bar{Date: day(2024, 3, 4), Open: 100, High: 103, Low: 96, Close: 101, Volume: 1000}
	e := newExecutor(t)

	tests := []struct {
		name     string
		limit    float64
		wantFill float64
		filled   bool
	}{
		{name: "open already under limit fills at open", limit: 102, wantFill: 100, filled: true},
		{name: "low reaches limit fills at limit", limit: 97, wantFill: 97, filled: true},
		{name: "limit never touched", limit: 95, filled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := freshPortfolio(t, 10000)
			w := advancedWindow(t, []Bar{bar}, 0)

			trade, err := e.Apply(Decision{Action: ActionBuy, Ticker: "ABEO", Shares: 10, LimitPrice: tt.limit}, w, p, "")
			require.NoError(t, err)

			if !tt.filled {
				assert.Nil(t, trade, "no fill leaves the portfolio untouched")
				assert.Equal(t, 10000.0, p.Cash())
				return
			}
			require.NotNil(t, trade)
			assert.InDelta(t, tt.wantFill, trade.Price, 1e-9)
		})
	}
}

func TestApplyLimitSell(t *testing.T) {
	bar := Bar{Date: day(2024, 3, 5), Open: 100, High: 104, Low: 96, Close: 101, Volume: 1000}
	e := newExecutor(t)

	tests := []struct {
		name     string
		limit    float64
		wantFill float64
		filled   bool
	}{
		{name: "open already above limit fills at open", limit: 98, wantFill: 100, filled: true},
		{name: "high reaches limit fills at limit", limit: 103, wantFill: 103, filled: true},
		{name: "limit never touched", limit: 105, filled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := freshPortfolio(t, 10000)
			_, err := p.Buy(day(2024, 3, 4), "ABEO", "Biotech", 10, 90, 0.9, 0, 0, TriggerManual, "")
			require.NoError(t, err)

			w := advancedWindow(t, []Bar{bar}, 0)
			trade, err := e.Apply(Decision{Action: ActionSell, Ticker: "ABEO", Amount: 100, LimitPrice: tt.limit}, w, p, "")
			require.NoError(t, err)

			if !tt.filled {
				assert.Nil(t, trade)
				_, held := p.Position("ABEO")
				assert.True(t, held)
				return
			}
			require.NotNil(t, trade)
			assert.InDelta(t, tt.wantFill, trade.Price, 1e-9)
		})
	}
}

func TestApplyBuyByNotionalFloorsShares(t *testing.T) {
	bar := Bar{Date: day(2024, 3, 4), Open: 97, High: 100, Low: 95, Close: 99, Volume: 1000}
	e := newExecutor(t)
	p := freshPortfolio(t, 10000)
	w := advancedWindow(t, []Bar{bar}, 0)

	trade, err := e.Apply(Decision{Action: ActionBuy, Ticker: "ABEO", Amount: 1000}, w, p, "")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.InDelta(t, 10, trade.Shares, 1e-9, "1000/97 floors to 10 whole shares")
}

func TestApplySellByPercentage(t *testing.T) {
	bar := Bar{Date: day(2024, 3, 5), Open: 100, High: 104, Low: 96, Close: 101, Volume: 1000}
	e := newExecutor(t)
	p := freshPortfolio(t, 10000)
	_, err := p.Buy(day(2024, 3, 4), "ABEO", "Biotech", 10, 90, 0.9, 0, 0, TriggerManual, "")
	require.NoError(t, err)

	w := advancedWindow(t, []Bar{bar}, 0)
	trade, err := e.Apply(Decision{Action: ActionSell, Ticker: "ABEO", Amount: 50}, w, p, "")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.InDelta(t, 5, trade.Shares, 1e-9)

	pos, held := p.Position("ABEO")
	require.True(t, held)
	assert.InDelta(t, 5, pos.Shares, 1e-9)
}

func TestApplyHoldDoesNothing(t *testing.T) {
	e := newExecutor(t)
	p := freshPortfolio(t, 10000)
	w := advancedWindow(t, testBars(), 0)

	trade, err := e.Apply(Decision{Action: ActionHold, Ticker: "ABEO"}, w, p, "")
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Empty(t, p.Trades())
}

func TestApplyDustBuyIsNoFill(t *testing.T) {
	e := newExecutor(t)
	p := freshPortfolio(t, 10000)
	w := advancedWindow(t, testBars(), 0)

	// 50 of notional cannot buy a single whole share at 100.
	trade, err := e.Apply(Decision{Action: ActionBuy, Ticker: "ABEO", Amount: 50}, w, p, "")
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestNewTradeExecutorValidation(t *testing.T) {
	_, err := NewTradeExecutor(-0.1, 1)
	assert.Error(t, err)
	_, err = NewTradeExecutor(0.001, 0)
	assert.Error(t, err)
}
