package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPortfolioState(t *testing.T) {
	_, err := NewPortfolioState(0)
	assert.Error(t, err)

	p, err := NewPortfolioState(10000)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, p.Cash())
	assert.Empty(t, p.Positions())
}

func TestBuyRejectsInsufficientFunds(t *testing.T) {
	p, err := NewPortfolioState(1000)
	require.NoError(t, err)

	_, err = p.Buy(day(2024, 1, 2), "AAPL", "Tech", 20, 100, 2, 0, 0, TriggerManual, "")
	require.Error(t, err)

	var funds *InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.InDelta(t, 2002, funds.Required, 1e-9)
	assert.InDelta(t, 1000, funds.Available, 1e-9)

	// Rejection leaves state untouched, never a partial fill.
	assert.Equal(t, 1000.0, p.Cash())
	assert.Empty(t, p.Trades())
}

func TestBuyAveragesCostBasis(t *testing.T) {
	p, err := NewPortfolioState(10000)
	require.NoError(t, err)

	_, err = p.Buy(day(2024, 1, 2), "AAPL", "Tech", 10, 100, 1, 90, 0, TriggerManual, "")
	require.NoError(t, err)
	_, err = p.Buy(day(2024, 1, 3), "AAPL", "Tech", 10, 110, 1.1, 95, 0, TriggerManual, "")
	require.NoError(t, err)

	pos, ok := p.Position("AAPL")
	require.True(t, ok)
	assert.InDelta(t, 20, pos.Shares, 1e-9)
	assert.InDelta(t, 105, pos.CostBasis, 1e-9)
	assert.InDelta(t, 95, pos.StopLoss, 1e-9, "repeat buy refreshes the stop")
	assert.Equal(t, day(2024, 1, 2), pos.OpenedOn, "opened date survives repeat buys")
}

func TestSellClosesPositionAndRealizesPnL(t *testing.T) {
	p, err := NewPortfolioState(10000)
	require.NoError(t, err)

	_, err = p.Buy(day(2024, 1, 2), "AAPL", "Tech", 10, 100, 1, 0, 0, TriggerManual, "")
	require.NoError(t, err)

	trade, err := p.Sell(day(2024, 1, 10), "AAPL", 10, 120, 1.2, TriggerManual, "")
	require.NoError(t, err)

	assert.InDelta(t, (120-100)*10-1.2, trade.PnL, 1e-9)
	assert.InDelta(t, 20, trade.PnLPct, 1e-9)

	_, ok := p.Position("AAPL")
	assert.False(t, ok, "fully sold position is removed")
}

func TestSellPartial(t *testing.T) {
	p, err := NewPortfolioState(10000)
	require.NoError(t, err)

	_, err = p.Buy(day(2024, 1, 2), "AAPL", "Tech", 10, 100, 1, 0, 0, TriggerManual, "")
	require.NoError(t, err)

	_, err = p.Sell(day(2024, 1, 5), "AAPL", 4, 110, 0.44, TriggerManual, "")
	require.NoError(t, err)

	pos, ok := p.Position("AAPL")
	require.True(t, ok)
	assert.InDelta(t, 6, pos.Shares, 1e-9)
	assert.InDelta(t, 100, pos.CostBasis, 1e-9, "cost basis unchanged by a sell")
}

func TestSellValidation(t *testing.T) {
	p, err := NewPortfolioState(10000)
	require.NoError(t, err)

	_, err = p.Sell(day(2024, 1, 2), "AAPL", 1, 100, 0, TriggerManual, "")
	assert.ErrorContains(t, err, "no open position")

	_, err = p.Buy(day(2024, 1, 2), "AAPL", "Tech", 5, 100, 0, 0, 0, TriggerManual, "")
	require.NoError(t, err)

	_, err = p.Sell(day(2024, 1, 3), "AAPL", 6, 100, 0, TriggerManual, "")
	assert.ErrorContains(t, err, "held")
}

func TestSnapshotReconciles(t *testing.T) {
	p, err := NewPortfolioState(10000)
	require.NoError(t, err)

	_, err = p.Buy(day(2024, 1, 2), "AAPL", "Tech", 10, 100, 1, 0, 0, TriggerManual, "")
	require.NoError(t, err)

	snap, err := p.Snapshot(day(2024, 1, 2), map[string]float64{"AAPL": 102})
	require.NoError(t, err)

	assert.InDelta(t, 8999, snap.Cash, 1e-9)
	assert.InDelta(t, 1020, snap.InvestedValue, 1e-9)
	assert.InDelta(t, 10019, snap.TotalEquity, 1e-9)
	assert.Len(t, p.EquityCurve(), 1)
}

func TestSnapshotMarksFallBackToCostBasis(t *testing.T) {
	p, err := NewPortfolioState(10000)
	require.NoError(t, err)

	_, err = p.Buy(day(2024, 1, 2), "AAPL", "Tech", 10, 100, 1, 0, 0, TriggerManual, "")
	require.NoError(t, err)

	snap, err := p.Snapshot(day(2024, 1, 2), nil)
	require.NoError(t, err)
	assert.InDelta(t, 1000, snap.InvestedValue, 1e-9)
}
