package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"

	"golang-backtest/internal/model"
)

type BacktestScheduleRepository interface {
	Create(ctx context.Context, schedule *model.BacktestSchedule) error
	FindDue(ctx context.Context, now time.Time) ([]model.BacktestSchedule, error)
	MarkExecuted(ctx context.Context, id uint, ranAt, nextRun time.Time) error
	Deactivate(ctx context.Context, id uint) error
}

type backtestScheduleRepository struct {
	db *gorm.DB
}

func NewBacktestScheduleRepository(db *gorm.DB) BacktestScheduleRepository {
	return &backtestScheduleRepository{db: db}
}

func (r *backtestScheduleRepository) Create(ctx context.Context, schedule *model.BacktestSchedule) error {
	if err := r.db.WithContext(ctx).Create(schedule).Error; err != nil {
		return fmt.Errorf("failed to create backtest schedule: %w", err)
	}
	return nil
}

func (r *backtestScheduleRepository) FindDue(ctx context.Context, now time.Time) ([]model.BacktestSchedule, error) {
	var rows []model.BacktestSchedule
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("next_run_at IS NULL OR next_run_at <= ?", now).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find due schedules: %w", err)
	}
	return rows, nil
}

func (r *backtestScheduleRepository) MarkExecuted(ctx context.Context, id uint, ranAt, nextRun time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&model.BacktestSchedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at": sql.NullTime{Time: ranAt, Valid: true},
			"next_run_at": sql.NullTime{Time: nextRun, Valid: true},
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark schedule %d executed: %w", id, err)
	}
	return nil
}

func (r *backtestScheduleRepository) Deactivate(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&model.BacktestSchedule{}).
		Where("id = ?", id).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate schedule %d: %w", id, err)
	}
	return nil
}
