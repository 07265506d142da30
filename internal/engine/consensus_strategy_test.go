package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyConsensusAggregate(t *testing.T) {
	engine := NewStrategyConsensusEngine(0.5)

	tests := []struct {
		name           string
		votes          []StrategyVote
		wantAction     Action
		wantConfidence float64
	}{
		{
			name: "divided field is a veto",
			votes: []StrategyVote{
				{SourceID: "a", Weight: 0.34, Action: ActionBuy, Confidence: 1},
				{SourceID: "b", Weight: 0.33, Action: ActionSell, Confidence: 1},
				{SourceID: "c", Weight: 0.33, Action: ActionHold, Confidence: 1},
			},
			wantAction:     ActionHold,
			wantConfidence: 0,
		},
		{
			name: "convergent buy",
			votes: []StrategyVote{
				{SourceID: "a", Weight: 0.5, Action: ActionBuy, Confidence: 0.8},
				{SourceID: "b", Weight: 0.3, Action: ActionBuy, Confidence: 0.6},
				{SourceID: "c", Weight: 0.2, Action: ActionHold, Confidence: 0.5},
			},
			wantAction:     ActionBuy,
			wantConfidence: (0.5*0.8 + 0.3*0.6) / 0.8,
		},
		{
			name: "unanimous sell",
			votes: []StrategyVote{
				{SourceID: "a", Weight: 0.6, Action: ActionSell, Confidence: 0.9},
				{SourceID: "b", Weight: 0.4, Action: ActionSell, Confidence: 0.7},
			},
			wantAction:     ActionSell,
			wantConfidence: 0.6*0.9 + 0.4*0.7,
		},
		{
			name: "zero confidence everywhere holds",
			votes: []StrategyVote{
				{SourceID: "a", Weight: 0.5, Action: ActionBuy, Confidence: 0},
				{SourceID: "b", Weight: 0.5, Action: ActionSell, Confidence: 0},
			},
			wantAction:     ActionHold,
			wantConfidence: 0,
		},
		{
			name: "exactly at threshold does not pass",
			votes: []StrategyVote{
				{SourceID: "a", Weight: 0.5, Action: ActionBuy, Confidence: 1},
				{SourceID: "b", Weight: 0.5, Action: ActionSell, Confidence: 1},
			},
			wantAction:     ActionHold,
			wantConfidence: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, confidence, err := engine.Aggregate(tt.votes)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, action)
			assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
		})
	}
}

func TestStrategyConsensusErrors(t *testing.T) {
	engine := NewStrategyConsensusEngine(0.5)

	_, _, err := engine.Aggregate(nil)
	assert.ErrorIs(t, err, ErrInsufficientVotes)

	_, _, err = engine.Aggregate([]StrategyVote{
		{SourceID: "a", Weight: 0.5, Action: ActionBuy, Confidence: 1},
	})
	assert.ErrorIs(t, err, ErrWeightSum)

	_, _, err = engine.Aggregate([]StrategyVote{
		{SourceID: "a", Weight: 1, Action: Action("SHORT"), Confidence: 1},
	})
	assert.ErrorContains(t, err, "unknown action")

	_, _, err = engine.Aggregate([]StrategyVote{
		{SourceID: "a", Weight: 1, Action: ActionBuy, Confidence: 1.5},
	})
	assert.ErrorContains(t, err, "confidence")
}
