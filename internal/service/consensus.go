package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"golang-backtest/config"
	"golang-backtest/internal/contract"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/engine"
	"golang-backtest/pkg/logger"
)

// consensusDecisionSource fans a decision request out to a voter panel and
// folds the ballots through the risk and strategy consensus engines. A
// voter that errors or times out abstains; the remaining weights are
// renormalized so abstention never counts as an opinion.
type consensusDecisionSource struct {
	cfg      *config.Config
	log      *logger.Logger
	voters   []contract.VoteProvider
	risk     *engine.RiskConsensusEngine
	strategy *engine.StrategyConsensusEngine
}

func NewConsensusDecisionSource(cfg *config.Config, log *logger.Logger, voters []contract.VoteProvider) (engine.DecisionSource, error) {
	if len(voters) == 0 {
		return nil, fmt.Errorf("consensus needs at least one voter")
	}

	escalationTier, err := engine.ParseRiskTier(cfg.Consensus.EscalationTier)
	if err != nil {
		return nil, fmt.Errorf("bad escalation tier: %w", err)
	}

	return &consensusDecisionSource{
		cfg:      cfg,
		log:      log,
		voters:   voters,
		risk:     engine.NewRiskConsensusEngine(escalationTier, cfg.Consensus.EscalationWeight),
		strategy: engine.NewStrategyConsensusEngine(cfg.Consensus.Supermajority),
	}, nil
}

func (s *consensusDecisionSource) Decide(ctx context.Context, dc engine.DecisionContext) (*engine.Decision, error) {
	ballots := s.collect(ctx, dc)
	if len(ballots) == 0 {
		return nil, fmt.Errorf("all %d voters abstained", len(s.voters))
	}

	strategyVotes, riskVotes := renormalize(ballots)

	action, confidence, err := s.strategy.Aggregate(strategyVotes)
	if err != nil {
		return nil, fmt.Errorf("strategy consensus failed: %w", err)
	}
	tier, err := s.risk.Aggregate(riskVotes)
	if err != nil {
		return nil, fmt.Errorf("risk consensus failed: %w", err)
	}

	s.log.DebugContext(ctx, "consensus folded",
		logger.StringField("ticker", dc.Ticker),
		logger.StringField("action", string(action)),
		logger.Float64Field("confidence", confidence),
		logger.StringField("risk_tier", tier.String()),
		logger.IntField("ballots", len(ballots)),
	)

	if action == engine.ActionHold {
		return &engine.Decision{Action: engine.ActionHold, Ticker: dc.Ticker, Confidence: confidence}, nil
	}
	if tier == engine.RiskExtreme {
		return &engine.Decision{
			Action:    engine.ActionHold,
			Ticker:    dc.Ticker,
			Rationale: "risk consensus EXTREME vetoed " + string(action),
		}, nil
	}

	proposal := bestProposal(ballots, action)
	if proposal == nil {
		return &engine.Decision{Action: engine.ActionHold, Ticker: dc.Ticker}, nil
	}

	decision := *proposal
	decision.Ticker = dc.Ticker
	decision.Confidence = confidence
	if tier == engine.RiskHigh && decision.Action == engine.ActionBuy {
		// Elevated but not prohibitive risk halves the entry size.
		decision.Amount = decision.Amount / 2
		decision.Shares = decision.Shares / 2
		decision.Rationale = appendRationale(decision.Rationale, "size halved by HIGH risk consensus")
	}
	return &decision, nil
}

// collect gathers ballots with bounded concurrency and a per-voter timeout.
func (s *consensusDecisionSource) collect(ctx context.Context, dc engine.DecisionContext) []*dto.Ballot {
	results := make([]*dto.Ballot, len(s.voters))

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Consensus.MaxConcurrency > 0 {
		g.SetLimit(s.cfg.Consensus.MaxConcurrency)
	}

	for i, voter := range s.voters {
		g.Go(func() error {
			voteCtx := gctx
			if s.cfg.Consensus.VoteTimeout > 0 {
				var cancel context.CancelFunc
				voteCtx, cancel = context.WithTimeout(gctx, s.cfg.Consensus.VoteTimeout)
				defer cancel()
			}

			ballot, err := voter.Vote(voteCtx, dc)
			if err != nil {
				s.log.WarnContext(ctx, "voter abstained",
					logger.StringField("voter", voter.ID()),
					logger.StringField("ticker", dc.Ticker),
					logger.ErrorField(err),
				)
				return nil
			}
			results[i] = ballot
			return nil
		})
	}
	_ = g.Wait()

	ballots := make([]*dto.Ballot, 0, len(results))
	for _, b := range results {
		if b != nil {
			ballots = append(ballots, b)
		}
	}
	return ballots
}

// renormalize rescales the weights of the ballots that arrived so they sum
// to one again after abstentions.
func renormalize(ballots []*dto.Ballot) ([]engine.StrategyVote, []engine.RiskVote) {
	var total float64
	for _, b := range ballots {
		total += b.Strategy.Weight
	}

	strategyVotes := make([]engine.StrategyVote, 0, len(ballots))
	riskVotes := make([]engine.RiskVote, 0, len(ballots))
	for _, b := range ballots {
		sv := b.Strategy
		rv := b.Risk
		if total > 0 {
			sv.Weight = sv.Weight / total
			rv.Weight = rv.Weight / total
		}
		strategyVotes = append(strategyVotes, sv)
		riskVotes = append(riskVotes, rv)
	}
	return strategyVotes, riskVotes
}

// bestProposal returns the concrete order of the most convinced voter that
// agreed with the winning action.
func bestProposal(ballots []*dto.Ballot, action engine.Action) *engine.Decision {
	var best *engine.Decision
	var bestScore float64
	for _, b := range ballots {
		if b.Strategy.Action != action || b.Proposal == nil {
			continue
		}
		score := b.Strategy.Weight * b.Strategy.Confidence
		if best == nil || score > bestScore {
			best = b.Proposal
			bestScore = score
		}
	}
	return best
}

func appendRationale(rationale, note string) string {
	if rationale == "" {
		return note
	}
	return rationale + "; " + note
}
