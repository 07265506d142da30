package repository

import (
	"gorm.io/gorm"

	"golang-backtest/config"
	"golang-backtest/internal/contract"
	"golang-backtest/pkg/cache"
	"golang-backtest/pkg/logger"
)

type Repository struct {
	YahooFinanceRepo     YahooFinanceRepository
	BinanceRepo          BinanceRepository
	MarketData           contract.MarketDataProvider
	BacktestRunRepo      BacktestRunRepository
	BacktestScheduleRepo BacktestScheduleRepository
	GeminiVoters         []contract.VoteProvider
}

func NewRepository(cfg *config.Config, inmemoryCache cache.Cache, db *gorm.DB, log *logger.Logger) (*Repository, error) {
	yahoo := NewYahooFinanceRepository(cfg, inmemoryCache, log)
	binance := NewBinanceRepository(cfg, inmemoryCache, log)

	var geminiVoters []contract.VoteProvider
	for _, voter := range cfg.Voters {
		if voter.Kind != "gemini" {
			continue
		}
		provider, err := NewGeminiDecisionRepository(cfg, voter, log)
		if err != nil {
			return nil, err
		}
		geminiVoters = append(geminiVoters, provider)
	}

	return &Repository{
		YahooFinanceRepo:     yahoo,
		BinanceRepo:          binance,
		MarketData:           NewMarketDataRouter(yahoo, binance),
		BacktestRunRepo:      NewBacktestRunRepository(db),
		BacktestScheduleRepo: NewBacktestScheduleRepository(db),
		GeminiVoters:         geminiVoters,
	}, nil
}
