package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"golang-backtest/internal/engine"
	"golang-backtest/internal/model"
)

type BacktestRunRepository interface {
	Save(ctx context.Context, result *engine.BacktestResult) (*model.BacktestRun, error)
	GetByID(ctx context.Context, id uint) (*model.BacktestRun, error)
	List(ctx context.Context, limit int) ([]model.BacktestRun, error)
}

type backtestRunRepository struct {
	db *gorm.DB
}

func NewBacktestRunRepository(db *gorm.DB) BacktestRunRepository {
	return &backtestRunRepository{db: db}
}

// Save serializes a run outcome into JSON columns. The stored document is
// the same shape the API returns, so a persisted run replays losslessly.
func (r *backtestRunRepository) Save(ctx context.Context, result *engine.BacktestResult) (*model.BacktestRun, error) {
	row := &model.BacktestRun{
		Ticker:      result.Config.Ticker,
		StartDate:   result.Config.StartDate,
		EndDate:     result.Config.EndDate,
		Status:      string(result.Status),
		AbortReason: result.AbortReason,
		FinalEquity: result.Metrics.FinalEquity,
	}

	fields := []struct {
		name string
		src  interface{}
	}{
		{"config", result.Config},
		{"trades", result.Trades},
		{"equity curve", result.EquityCurve},
		{"decision log", result.DecisionLog},
		{"metrics", result.Metrics},
	}
	encoded := make([][]byte, len(fields))
	for i, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", f.name, err)
		}
		encoded[i] = data
	}
	row.Config, row.Trades, row.EquityCurve, row.DecisionLog, row.Metrics =
		encoded[0], encoded[1], encoded[2], encoded[3], encoded[4]

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to save backtest run: %w", err)
	}
	return row, nil
}

func (r *backtestRunRepository) GetByID(ctx context.Context, id uint) (*model.BacktestRun, error) {
	var row model.BacktestRun
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get backtest run %d: %w", id, err)
	}
	return &row, nil
}

func (r *backtestRunRepository) List(ctx context.Context, limit int) ([]model.BacktestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []model.BacktestRun
	err := r.db.WithContext(ctx).
		Select("id", "ticker", "start_date", "end_date", "status", "final_equity", "created_at").
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest runs: %w", err)
	}
	return rows, nil
}
