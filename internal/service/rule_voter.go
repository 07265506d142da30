package service

import (
	"context"
	"fmt"
	"math"

	"golang-backtest/config"
	"golang-backtest/internal/contract"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/engine"
)

// ruleProfile tunes how eagerly a rule voter enters and how much of the
// available cash it commits.
type ruleProfile struct {
	rsiOverbought float64
	rsiOversold   float64
	entryPct      float64 // share of cash committed on a BUY
	stopATR       float64
	takeATR       float64
}

var ruleProfiles = map[string]ruleProfile{
	"conservative": {rsiOverbought: 65, rsiOversold: 35, entryPct: 0.10, stopATR: 1.5, takeATR: 2.5},
	"moderate":     {rsiOverbought: 70, rsiOversold: 30, entryPct: 0.15, stopATR: 2.0, takeATR: 3.0},
	"aggressive":   {rsiOverbought: 78, rsiOversold: 25, entryPct: 0.25, stopATR: 2.5, takeATR: 4.0},
}

// ruleVoteProvider is a deterministic voter built on trend and momentum
// indicators. It gives the consensus panel an opinion that never times out
// and costs nothing, alongside the model-backed voters.
type ruleVoteProvider struct {
	voter   config.Voter
	profile ruleProfile
}

func NewRuleVoteProvider(voter config.Voter) (contract.VoteProvider, error) {
	profile, ok := ruleProfiles[voter.Model]
	if !ok {
		return nil, fmt.Errorf("unknown rule profile %q for voter %s", voter.Model, voter.ID)
	}
	return &ruleVoteProvider{voter: voter, profile: profile}, nil
}

func (p *ruleVoteProvider) ID() string      { return p.voter.ID }
func (p *ruleVoteProvider) Weight() float64 { return p.voter.Weight }

func (p *ruleVoteProvider) Vote(_ context.Context, dc engine.DecisionContext) (*dto.Ballot, error) {
	sma := engine.SMA(dc.History, 20)
	rsi := engine.RSI(dc.History, 14)
	atr := engine.ATR(dc.History, 14)

	ballot := &dto.Ballot{
		Strategy: engine.StrategyVote{SourceID: p.voter.ID, Weight: p.voter.Weight, Action: engine.ActionHold},
		Risk:     engine.RiskVote{SourceID: p.voter.ID, Weight: p.voter.Weight, Tier: engine.RiskMedium},
	}

	// Insufficient history blocks any opinion beyond a neutral hold.
	if math.IsNaN(sma) || math.IsNaN(rsi) || math.IsNaN(atr) || len(dc.History) == 0 {
		return ballot, nil
	}

	latest := dc.History[len(dc.History)-1].Close
	ballot.Risk.Tier = riskTierFromVolatility(atr, latest)

	switch {
	case dc.Position == nil && latest > sma && rsi < p.profile.rsiOverbought:
		confidence := clamp((p.profile.rsiOverbought-rsi)/p.profile.rsiOverbought+0.4, 0, 1)
		ballot.Strategy.Action = engine.ActionBuy
		ballot.Strategy.Confidence = confidence
		ballot.Proposal = &engine.Decision{
			Action:     engine.ActionBuy,
			Ticker:     dc.Ticker,
			Amount:     dc.Cash * p.profile.entryPct,
			StopLoss:   latest - p.profile.stopATR*atr,
			TakeProfit: latest + p.profile.takeATR*atr,
			Confidence: confidence,
			Rationale:  fmt.Sprintf("close above SMA20 with RSI %.1f", rsi),
		}
	case dc.Position != nil && (rsi > p.profile.rsiOverbought || latest < sma):
		confidence := clamp((rsi-p.profile.rsiOverbought)/(100-p.profile.rsiOverbought)+0.5, 0, 1)
		ballot.Strategy.Action = engine.ActionSell
		ballot.Strategy.Confidence = confidence
		ballot.Proposal = &engine.Decision{
			Action:     engine.ActionSell,
			Ticker:     dc.Ticker,
			Amount:     100,
			Confidence: confidence,
			Rationale:  fmt.Sprintf("momentum exhausted, RSI %.1f", rsi),
		}
	default:
		ballot.Strategy.Confidence = 0.3
	}

	return ballot, nil
}

// riskTierFromVolatility grades daily range against price: wide candles
// mean a wide stop and a riskier entry.
func riskTierFromVolatility(atr, price float64) engine.RiskTier {
	ratio := atr / price
	switch {
	case ratio < 0.02:
		return engine.RiskLow
	case ratio < 0.04:
		return engine.RiskMedium
	case ratio < 0.07:
		return engine.RiskHigh
	default:
		return engine.RiskExtreme
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
