package engine

import (
	"fmt"
	"math"
)

type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
	RiskExtreme
)

func (t RiskTier) String() string {
	switch t {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskExtreme:
		return "EXTREME"
	default:
		return fmt.Sprintf("RiskTier(%d)", int(t))
	}
}

func ParseRiskTier(s string) (RiskTier, error) {
	switch s {
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	case "EXTREME":
		return RiskExtreme, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk tier %q", s)
	}
}

type RiskVote struct {
	SourceID string
	Weight   float64
	Tier     RiskTier
}

// RiskConsensusEngine folds weighted tier votes into a single tier.
// Aggregation is conservative: a dissenting minority above the escalation
// tier can raise the outcome even when the majority sits lower.
type RiskConsensusEngine struct {
	escalationTier   RiskTier
	escalationWeight float64
}

func NewRiskConsensusEngine(escalationTier RiskTier, escalationWeight float64) *RiskConsensusEngine {
	return &RiskConsensusEngine{
		escalationTier:   escalationTier,
		escalationWeight: escalationWeight,
	}
}

// Aggregate returns the consensus tier. Votes must be non-empty and their
// weights must sum to 1 within a small tolerance.
func (e *RiskConsensusEngine) Aggregate(votes []RiskVote) (RiskTier, error) {
	if len(votes) == 0 {
		return RiskLow, ErrInsufficientVotes
	}

	var sum float64
	tally := make(map[RiskTier]float64, 4)
	for _, v := range votes {
		if v.Weight < 0 {
			return RiskLow, fmt.Errorf("vote from %s has negative weight %.3f", v.SourceID, v.Weight)
		}
		if v.Tier < RiskLow || v.Tier > RiskExtreme {
			return RiskLow, fmt.Errorf("vote from %s has unknown tier %d", v.SourceID, int(v.Tier))
		}
		sum += v.Weight
		tally[v.Tier] += v.Weight
	}
	if math.Abs(sum-1) > 1e-3 {
		return RiskLow, fmt.Errorf("%w: got %.4f", ErrWeightSum, sum)
	}

	// Majority scan from the top so a tie lands on the higher tier.
	result := RiskLow
	var cumulative float64
	for tier := RiskExtreme; tier >= RiskLow; tier-- {
		cumulative += tally[tier]
		if cumulative >= 0.5 {
			result = tier
			break
		}
	}

	if e.escalationWeight > 0 {
		var atOrAbove float64
		for tier := e.escalationTier; tier <= RiskExtreme; tier++ {
			atOrAbove += tally[tier]
		}
		if atOrAbove >= e.escalationWeight && result < e.escalationTier {
			result = e.escalationTier
		}
	}

	return result, nil
}
