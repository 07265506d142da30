package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/pkg/logger"
)

// scriptedSource replays canned decisions in order, then holds.
type scriptedSource struct {
	decisions []Decision
	calls     int
	contexts  []DecisionContext
}

func (s *scriptedSource) Decide(_ context.Context, dc DecisionContext) (*Decision, error) {
	s.contexts = append(s.contexts, dc)
	if s.calls < len(s.decisions) {
		d := s.decisions[s.calls]
		s.calls++
		return &d, nil
	}
	s.calls++
	return &Decision{Action: ActionHold, Ticker: dc.Ticker}, nil
}

type failingSource struct{ calls int }

func (s *failingSource) Decide(context.Context, DecisionContext) (*Decision, error) {
	s.calls++
	return nil, errors.New("model unavailable")
}

func scenarioConfig() BacktestConfig {
	return BacktestConfig{
		Ticker:           "ABEO",
		Sector:           "Biotech",
		StartDate:        day(2024, 3, 4),
		EndDate:          day(2024, 3, 6),
		InitialCapital:   10000,
		FeeRate:          0.001,
		TradableUnit:     1,
		DecisionInterval: 1,
		WarmupBars:       0,
		RiskFreeRate:     0.05,
	}
}

func scenarioBars() []Bar {
	return []Bar{
		{Date: day(2024, 3, 4), Open: 100, High: 105, Low: 99, Close: 102, Volume: 1000},
		{Date: day(2024, 3, 5), Open: 95, High: 96, Low: 85, Close: 88, Volume: 1500},
		{Date: day(2024, 3, 6), Open: 89, High: 92, Low: 87, Close: 90, Volume: 1200},
	}
}

func TestOrchestratorRunScenario(t *testing.T) {
	w, err := NewMarketWindow("ABEO", scenarioBars())
	require.NoError(t, err)

	source := &scriptedSource{decisions: []Decision{
		{Action: ActionBuy, Ticker: "ABEO", Shares: 10, StopLoss: 90},
	}}

	o, err := NewBacktestOrchestrator(scenarioConfig(), w, nil, source, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, StatusInitialized, o.Status())

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, StatusCompleted, o.Status())

	// Day 1 buys 10 at 100 (fee 1), day 2 gaps down and the stop fills at
	// 90 before the strategy is ever consulted.
	require.Len(t, result.Trades, 2)
	assert.Equal(t, ActionBuy, result.Trades[0].Action)
	assert.InDelta(t, 100, result.Trades[0].Price, 1e-9)
	assert.Equal(t, TriggerStopLoss, result.Trades[1].Trigger)
	assert.InDelta(t, 90, result.Trades[1].Price, 1e-9)

	require.Len(t, result.EquityCurve, 3)
	assert.InDelta(t, 9898.10, result.EquityCurve[2].TotalEquity, 1e-6)
	assert.InDelta(t, 9898.10, result.Metrics.FinalEquity, 1e-6)
	assert.Equal(t, 1, result.Metrics.LosingTrades)

	require.Len(t, result.DecisionLog, 3)
	assert.Contains(t, result.DecisionLog[0].Outcome, "filled BUY")
}

func TestOrchestratorNeverShowsFutureBars(t *testing.T) {
	source := &scriptedSource{}
	w, err := NewMarketWindow("ABEO", scenarioBars())
	require.NoError(t, err)

	o, err := NewBacktestOrchestrator(scenarioConfig(), w, nil, source, logger.NewNop())
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, source.contexts)
	for _, dc := range source.contexts {
		for _, b := range dc.History {
			assert.False(t, b.Date.After(dc.Date), "history contains a bar after the decision date")
		}
	}
}

func TestOrchestratorWarmupDelaysFirstDecision(t *testing.T) {
	source := &scriptedSource{}
	w, err := NewMarketWindow("ABEO", scenarioBars())
	require.NoError(t, err)

	cfg := scenarioConfig()
	cfg.WarmupBars = 2
	o, err := NewBacktestOrchestrator(cfg, w, nil, source, logger.NewNop())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.DecisionLog, 1, "only the third bar is past warmup")
	assert.Equal(t, day(2024, 3, 6), result.DecisionLog[0].Date)
}

func TestOrchestratorDegradesToHoldOnProviderFailure(t *testing.T) {
	source := &failingSource{}
	w, err := NewMarketWindow("ABEO", scenarioBars())
	require.NoError(t, err)

	cfg := scenarioConfig()
	cfg.ProviderRetries = 2
	o, err := NewBacktestOrchestrator(cfg, w, nil, source, logger.NewNop())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Empty(t, result.Trades)

	require.NotEmpty(t, result.DecisionLog)
	first := result.DecisionLog[0]
	assert.True(t, first.Degraded)
	assert.Equal(t, ActionHold, first.Decision.Action)
	assert.Equal(t, 3, source.calls-((len(result.DecisionLog)-1)*3), "each step tries 1 + retries times")
}

func TestOrchestratorRunOnce(t *testing.T) {
	w, err := NewMarketWindow("ABEO", scenarioBars())
	require.NoError(t, err)
	o, err := NewBacktestOrchestrator(scenarioConfig(), w, nil, &scriptedSource{}, logger.NewNop())
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunNotRunnable)
}

func TestOrchestratorAbortOnCancel(t *testing.T) {
	w, err := NewMarketWindow("ABEO", scenarioBars())
	require.NoError(t, err)
	o, err := NewBacktestOrchestrator(scenarioConfig(), w, nil, &scriptedSource{}, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Run(ctx)
	require.Error(t, err)
	require.NotNil(t, result, "abort still returns the partial result")
	assert.Equal(t, StatusAborted, result.Status)
	assert.Contains(t, result.AbortReason, "cancelled")
	assert.Equal(t, StatusAborted, o.Status())
}

func TestOrchestratorConfigValidation(t *testing.T) {
	w, err := NewMarketWindow("ABEO", scenarioBars())
	require.NoError(t, err)

	cfg := scenarioConfig()
	cfg.Ticker = ""
	_, err = NewBacktestOrchestrator(cfg, w, nil, &scriptedSource{}, logger.NewNop())
	assert.ErrorContains(t, err, "ticker")

	cfg = scenarioConfig()
	cfg.EndDate = cfg.StartDate.AddDate(0, 0, -1)
	_, err = NewBacktestOrchestrator(cfg, w, nil, &scriptedSource{}, logger.NewNop())
	assert.ErrorContains(t, err, "end date")
}

func TestBacktestResultJSONRoundTrip(t *testing.T) {
	w, err := NewMarketWindow("ABEO", scenarioBars())
	require.NoError(t, err)
	source := &scriptedSource{decisions: []Decision{
		{Action: ActionBuy, Ticker: "ABEO", Shares: 10, StopLoss: 90},
	}}
	o, err := NewBacktestOrchestrator(scenarioConfig(), w, nil, source, logger.NewNop())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var back BacktestResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *result, back)
}

func TestOrchestratorDecisionInterval(t *testing.T) {
	bars := make([]Bar, 0, 6)
	for i := 0; i < 6; i++ {
		d := day(2024, 3, 4).AddDate(0, 0, i)
		bars = append(bars, Bar{Date: d, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1})
	}
	w, err := NewMarketWindow("ABEO", bars)
	require.NoError(t, err)

	cfg := scenarioConfig()
	cfg.EndDate = bars[len(bars)-1].Date
	cfg.DecisionInterval = 3
	source := &scriptedSource{}
	o, err := NewBacktestOrchestrator(cfg, w, nil, source, logger.NewNop())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.DecisionLog, 2, "six daily bars at a three day cadence")

	var prev time.Time
	for i, rec := range result.DecisionLog {
		if i > 0 {
			assert.GreaterOrEqual(t, int(rec.Date.Sub(prev).Hours()/24), 3)
		}
		prev = rec.Date
	}
}
