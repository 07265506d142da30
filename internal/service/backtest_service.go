package service

import (
	"context"
	"encoding/json"
	"fmt"

	"golang-backtest/config"
	"golang-backtest/internal/contract"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/engine"
	"golang-backtest/internal/model"
	"golang-backtest/internal/repository"
	"golang-backtest/pkg/logger"
)

type BacktestService interface {
	RunBacktest(ctx context.Context, req dto.BacktestRequest) (*dto.BacktestResponse, error)
	GetBacktest(ctx context.Context, id uint) (*dto.BacktestResponse, error)
	ListBacktests(ctx context.Context, limit int) ([]dto.BacktestSummary, error)
}

type backtestService struct {
	cfg        *config.Config
	log        *logger.Logger
	marketData contract.MarketDataProvider
	runRepo    repository.BacktestRunRepository
	source     engine.DecisionSource
}

func NewBacktestService(
	cfg *config.Config,
	log *logger.Logger,
	marketData contract.MarketDataProvider,
	runRepo repository.BacktestRunRepository,
	source engine.DecisionSource,
) BacktestService {
	return &backtestService{
		cfg:        cfg,
		log:        log,
		marketData: marketData,
		runRepo:    runRepo,
		source:     source,
	}
}

// RunBacktest executes one simulation end to end: resolve market data,
// build the run config from request overrides and configured defaults, run
// the orchestrator and persist the outcome. Aborted runs are persisted too;
// a partial result is still a result.
func (s *backtestService) RunBacktest(ctx context.Context, req dto.BacktestRequest) (*dto.BacktestResponse, error) {
	start, end, err := req.DateRange()
	if err != nil {
		return nil, err
	}

	runCfg := s.buildConfig(req)
	runCfg.StartDate = start
	runCfg.EndDate = end

	quote, err := s.marketData.GetQuote(ctx, req.Ticker)
	if err != nil {
		s.log.WarnContext(ctx, "quote lookup failed, eligibility checks disabled for this run",
			logger.StringField("ticker", req.Ticker),
			logger.ErrorField(err),
		)
	} else {
		runCfg.MarketCap = quote.MarketCap
		if runCfg.Sector == "" {
			runCfg.Sector = quote.Sector
		}
	}
	// Venues that report no market cap (crypto pairs, some listings)
	// cannot pass a cap ceiling; the check only binds when the cap is known.
	if runCfg.MarketCap == 0 {
		runCfg.Governor.MarketCapCeiling = 0
	}

	bars, err := s.marketData.GetBars(ctx, req.Ticker, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars for %s: %w", req.Ticker, err)
	}
	window, err := engine.NewMarketWindow(req.Ticker, bars)
	if err != nil {
		return nil, err
	}

	var benchmark []engine.Bar
	if runCfg.BenchmarkTicker != "" {
		benchmark, err = s.marketData.GetBars(ctx, runCfg.BenchmarkTicker, start, end)
		if err != nil {
			s.log.WarnContext(ctx, "benchmark unavailable, beta and alpha will be omitted",
				logger.StringField("benchmark", runCfg.BenchmarkTicker),
				logger.ErrorField(err),
			)
			benchmark = nil
		}
	}

	orchestrator, err := engine.NewBacktestOrchestrator(runCfg, window, benchmark, s.source, s.log)
	if err != nil {
		return nil, err
	}

	result, runErr := orchestrator.Run(ctx)
	if result == nil {
		return nil, runErr
	}
	if runErr != nil {
		s.log.WarnContext(ctx, "backtest did not complete",
			logger.StringField("ticker", req.Ticker),
			logger.ErrorField(runErr),
		)
	}

	response := &dto.BacktestResponse{Result: result}
	row, saveErr := s.runRepo.Save(ctx, result)
	if saveErr != nil {
		s.log.ErrorContext(ctx, "failed to persist backtest run", logger.ErrorField(saveErr))
	} else {
		response.ID = row.ID
	}
	return response, nil
}

func (s *backtestService) buildConfig(req dto.BacktestRequest) engine.BacktestConfig {
	defaults := s.cfg.Backtest

	runCfg := engine.BacktestConfig{
		Ticker:           req.Ticker,
		Sector:           req.Sector,
		BenchmarkTicker:  req.BenchmarkTicker,
		InitialCapital:   defaults.InitialCapital,
		FeeRate:          defaults.FeeRate,
		TradableUnit:     defaults.TradableUnit,
		DecisionInterval: defaults.DecisionInterval,
		WarmupBars:       defaults.WarmupBars,
		RiskFreeRate:     defaults.RiskFreeRate,
		ProviderRetries:  s.cfg.Consensus.ProviderRetries,
		RetryBackoff:     s.cfg.Consensus.RetryBackoff,
		Governor: engine.GovernorConfig{
			MaxPositionPct:    defaults.MaxPositionPct,
			MaxSectorPct:      defaults.MaxSectorPct,
			MinCashReservePct: defaults.MinCashReservePct,
			MarketCapCeiling:  defaults.MarketCapCeiling,
		},
	}

	if runCfg.BenchmarkTicker == "" {
		runCfg.BenchmarkTicker = defaults.BenchmarkTicker
	}
	if req.InitialCapital > 0 {
		runCfg.InitialCapital = req.InitialCapital
	}
	if req.FeeRate > 0 {
		runCfg.FeeRate = req.FeeRate
	}
	if req.DecisionInterval > 0 {
		runCfg.DecisionInterval = req.DecisionInterval
	}
	if req.WarmupBars > 0 {
		runCfg.WarmupBars = req.WarmupBars
	}
	if req.TradableUnit > 0 {
		runCfg.TradableUnit = req.TradableUnit
	}
	return runCfg
}

func (s *backtestService) GetBacktest(ctx context.Context, id uint) (*dto.BacktestResponse, error) {
	row, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := resultFromRow(row)
	if err != nil {
		return nil, err
	}
	return &dto.BacktestResponse{ID: row.ID, Result: result}, nil
}

func (s *backtestService) ListBacktests(ctx context.Context, limit int) ([]dto.BacktestSummary, error) {
	rows, err := s.runRepo.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]dto.BacktestSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, dto.BacktestSummary{
			ID:          row.ID,
			Ticker:      row.Ticker,
			StartDate:   row.StartDate,
			EndDate:     row.EndDate,
			Status:      row.Status,
			FinalEquity: row.FinalEquity,
			CreatedAt:   row.CreatedAt,
		})
	}
	return summaries, nil
}

// resultFromRow reassembles the engine result from the JSON columns of a
// persisted run.
func resultFromRow(row *model.BacktestRun) (*engine.BacktestResult, error) {
	result := &engine.BacktestResult{
		Status:      engine.RunStatus(row.Status),
		AbortReason: row.AbortReason,
	}

	fields := []struct {
		name string
		data []byte
		dst  interface{}
	}{
		{"config", row.Config, &result.Config},
		{"trades", row.Trades, &result.Trades},
		{"equity curve", row.EquityCurve, &result.EquityCurve},
		{"decision log", row.DecisionLog, &result.DecisionLog},
		{"metrics", row.Metrics, &result.Metrics},
	}
	for _, f := range fields {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode stored %s: %w", f.name, err)
		}
	}
	return result, nil
}
