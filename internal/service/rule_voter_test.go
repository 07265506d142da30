package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/config"
	"golang-backtest/internal/engine"
)

func ruleBars(closes []float64) []engine.Bar {
	bars := make([]engine.Bar, len(closes))
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = engine.Bar{
			Date:   day.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

// pullbackRecovery declines for twenty bars then recovers, which leaves the
// close above the SMA with momentum still short of overbought.
func pullbackRecovery() []float64 {
	closes := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		closes = append(closes, 110-0.5*float64(i))
	}
	for i := 1; i <= 10; i++ {
		closes = append(closes, 100.5+0.3*float64(i))
	}
	return closes
}

func TestNewRuleVoteProvider_UnknownProfile(t *testing.T) {
	_, err := NewRuleVoteProvider(config.Voter{ID: "v", Kind: "rule", Weight: 1, Model: "yolo"})
	assert.Error(t, err)
}

func TestRuleVoteProvider_Identity(t *testing.T) {
	provider, err := NewRuleVoteProvider(config.Voter{ID: "rule-1", Kind: "rule", Weight: 0.25, Model: "moderate"})
	require.NoError(t, err)
	assert.Equal(t, "rule-1", provider.ID())
	assert.Equal(t, 0.25, provider.Weight())
}

func TestRuleVoteProvider_InsufficientHistoryHolds(t *testing.T) {
	provider, err := NewRuleVoteProvider(config.Voter{ID: "v", Kind: "rule", Weight: 1, Model: "moderate"})
	require.NoError(t, err)

	ballot, err := provider.Vote(context.Background(), engine.DecisionContext{
		Ticker:  "AAPL",
		History: ruleBars([]float64{100, 101, 102, 101, 103}),
		Cash:    10000,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.ActionHold, ballot.Strategy.Action)
	assert.Equal(t, engine.RiskMedium, ballot.Risk.Tier)
	assert.Nil(t, ballot.Proposal)
}

func TestRuleVoteProvider_BuysOnRecoveryAboveSMA(t *testing.T) {
	provider, err := NewRuleVoteProvider(config.Voter{ID: "v", Kind: "rule", Weight: 1, Model: "moderate"})
	require.NoError(t, err)

	ballot, err := provider.Vote(context.Background(), engine.DecisionContext{
		Ticker:  "AAPL",
		History: ruleBars(pullbackRecovery()),
		Cash:    10000,
	})
	require.NoError(t, err)

	assert.Equal(t, engine.ActionBuy, ballot.Strategy.Action)
	assert.Equal(t, engine.RiskLow, ballot.Risk.Tier)
	require.NotNil(t, ballot.Proposal)
	// Moderate profile commits 15% of cash. Every true range in the series
	// is exactly 2, so the ATR-derived stops are exact.
	assert.Equal(t, 1500.0, ballot.Proposal.Amount)
	assert.InDelta(t, 103.5-2*2.0, ballot.Proposal.StopLoss, 1e-9)
	assert.InDelta(t, 103.5+3*2.0, ballot.Proposal.TakeProfit, 1e-9)
	assert.Greater(t, ballot.Strategy.Confidence, 0.0)
	assert.LessOrEqual(t, ballot.Strategy.Confidence, 1.0)
}

func TestRuleVoteProvider_SellsOnBreakdown(t *testing.T) {
	closes := make([]float64, 0, 28)
	for i := 0; i < 25; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 92, 86, 80)

	provider, err := NewRuleVoteProvider(config.Voter{ID: "v", Kind: "rule", Weight: 1, Model: "moderate"})
	require.NoError(t, err)

	ballot, err := provider.Vote(context.Background(), engine.DecisionContext{
		Ticker:   "AAPL",
		History:  ruleBars(closes),
		Cash:     5000,
		Position: &engine.Position{Ticker: "AAPL", Shares: 10, CostBasis: 95},
	})
	require.NoError(t, err)

	assert.Equal(t, engine.ActionSell, ballot.Strategy.Action)
	require.NotNil(t, ballot.Proposal)
	assert.Equal(t, 100.0, ballot.Proposal.Amount)
}

func TestRiskTierFromVolatility(t *testing.T) {
	tests := []struct {
		name  string
		atr   float64
		price float64
		want  engine.RiskTier
	}{
		{"calm", 1, 100, engine.RiskLow},
		{"normal", 3, 100, engine.RiskMedium},
		{"choppy", 5, 100, engine.RiskHigh},
		{"violent", 9, 100, engine.RiskExtreme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, riskTierFromVolatility(tt.atr, tt.price))
		})
	}
}
