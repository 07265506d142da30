package service

import (
	"golang-backtest/config"
	"golang-backtest/internal/contract"
	"golang-backtest/internal/repository"
	"golang-backtest/pkg/logger"
)

type Service struct {
	BacktestService  BacktestService
	SchedulerService SchedulerService
}

func NewService(cfg *config.Config, log *logger.Logger, repo *repository.Repository) (*Service, error) {
	voters, err := buildVoters(cfg, repo)
	if err != nil {
		return nil, err
	}

	source, err := NewConsensusDecisionSource(cfg, log, voters)
	if err != nil {
		return nil, err
	}

	backtests := NewBacktestService(cfg, log, repo.MarketData, repo.BacktestRunRepo, source)

	return &Service{
		BacktestService:  backtests,
		SchedulerService: NewSchedulerService(cfg, log, repo.BacktestScheduleRepo, backtests),
	}, nil
}

// buildVoters assembles the consensus panel: model-backed voters come from
// the repository layer, rule voters are constructed here. With no voters
// configured a single moderate rule voter keeps the engine usable.
func buildVoters(cfg *config.Config, repo *repository.Repository) ([]contract.VoteProvider, error) {
	voters := make([]contract.VoteProvider, 0, len(cfg.Voters))
	voters = append(voters, repo.GeminiVoters...)

	for _, voter := range cfg.Voters {
		if voter.Kind != "rule" {
			continue
		}
		provider, err := NewRuleVoteProvider(voter)
		if err != nil {
			return nil, err
		}
		voters = append(voters, provider)
	}

	if len(voters) == 0 {
		fallback, err := NewRuleVoteProvider(config.Voter{
			ID: "rule-moderate", Kind: "rule", Weight: 1, Model: "moderate",
		})
		if err != nil {
			return nil, err
		}
		voters = append(voters, fallback)
	}
	return voters, nil
}
