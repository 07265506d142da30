package engine

import (
	"fmt"
	"math"
)

type StrategyVote struct {
	SourceID   string
	Weight     float64
	Action     Action
	Confidence float64 // in [0,1]
}

// StrategyConsensusEngine folds weighted action votes. An action wins only
// with a supermajority of confidence-weighted agreement; a divided field is
// a veto and resolves to HOLD.
type StrategyConsensusEngine struct {
	supermajority float64
}

func NewStrategyConsensusEngine(supermajority float64) *StrategyConsensusEngine {
	if supermajority <= 0 {
		supermajority = 0.5
	}
	return &StrategyConsensusEngine{supermajority: supermajority}
}

// Aggregate returns the winning action and the weighted mean confidence of
// the voters that agreed with it. When no action clears the supermajority
// the result is HOLD with zero confidence.
func (e *StrategyConsensusEngine) Aggregate(votes []StrategyVote) (Action, float64, error) {
	if len(votes) == 0 {
		return ActionHold, 0, ErrInsufficientVotes
	}

	var weightSum float64
	scores := make(map[Action]float64, 3)
	agreeWeight := make(map[Action]float64, 3)
	for _, v := range votes {
		switch v.Action {
		case ActionBuy, ActionSell, ActionHold:
		default:
			return ActionHold, 0, fmt.Errorf("vote from %s has unknown action %q", v.SourceID, v.Action)
		}
		if v.Weight < 0 {
			return ActionHold, 0, fmt.Errorf("vote from %s has negative weight %.3f", v.SourceID, v.Weight)
		}
		if v.Confidence < 0 || v.Confidence > 1 {
			return ActionHold, 0, fmt.Errorf("vote from %s has confidence %.3f outside [0,1]", v.SourceID, v.Confidence)
		}
		weightSum += v.Weight
		scores[v.Action] += v.Weight * v.Confidence
		agreeWeight[v.Action] += v.Weight
	}
	if math.Abs(weightSum-1) > 1e-3 {
		return ActionHold, 0, fmt.Errorf("%w: got %.4f", ErrWeightSum, weightSum)
	}

	var total float64
	for _, s := range scores {
		total += s
	}
	if total == 0 {
		return ActionHold, 0, nil
	}

	winner := ActionHold
	best := -1.0
	for _, a := range []Action{ActionBuy, ActionSell, ActionHold} {
		if s := scores[a] / total; s > best {
			winner, best = a, s
		}
	}

	if best <= e.supermajority {
		return ActionHold, 0, nil
	}

	confidence := scores[winner] / agreeWeight[winner]
	return winner, confidence, nil
}
