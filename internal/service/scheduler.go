package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"golang-backtest/config"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/model"
	"golang-backtest/internal/repository"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/utils"
)

type SchedulerService interface {
	Start(ctx context.Context)
	Execute(ctx context.Context) error
	CreateSchedule(ctx context.Context, req dto.ScheduleRequest) (*model.BacktestSchedule, error)
	DeactivateSchedule(ctx context.Context, id uint) error
}

type schedulerService struct {
	cfg          *config.Config
	log          *logger.Logger
	scheduleRepo repository.BacktestScheduleRepository
	backtests    BacktestService
	parser       cron.Parser
	sem          chan struct{}
}

func NewSchedulerService(
	cfg *config.Config,
	log *logger.Logger,
	scheduleRepo repository.BacktestScheduleRepository,
	backtests BacktestService,
) SchedulerService {
	maxConcurrency := cfg.Scheduler.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &schedulerService{
		cfg:          cfg,
		log:          log,
		scheduleRepo: scheduleRepo,
		backtests:    backtests,
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		sem:          make(chan struct{}, maxConcurrency),
	}
}

// Start polls for due schedules once a minute until the context ends.
func (s *schedulerService) Start(ctx context.Context) {
	utils.GoSafe(func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		s.log.Info("scheduler started")
		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopped")
				return
			case <-ticker.C:
				if err := s.Execute(ctx); err != nil {
					s.log.ErrorContext(ctx, "scheduler pass failed", logger.ErrorField(err))
				}
			}
		}
	})
}

// Execute runs every due schedule, bounded by the configured concurrency.
// A schedule is marked executed even when its run fails so a broken request
// cannot wedge the poller into retrying every minute.
func (s *schedulerService) Execute(ctx context.Context) error {
	now := time.Now()
	due, err := s.scheduleRepo.FindDue(ctx, now)
	if err != nil {
		return err
	}

	for _, schedule := range due {
		if !utils.ShouldContinue(ctx, s.log) {
			return ctx.Err()
		}
		s.sem <- struct{}{}
		utils.GoSafe(func() {
			defer func() { <-s.sem }()
			s.runSchedule(ctx, schedule, now)
		})
	}
	return nil
}

func (s *schedulerService) runSchedule(ctx context.Context, schedule model.BacktestSchedule, ranAt time.Time) {
	runCtx := ctx
	if s.cfg.Scheduler.TimeoutDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Scheduler.TimeoutDuration)
		defer cancel()
	}

	var req dto.BacktestRequest
	if err := json.Unmarshal(schedule.Request, &req); err != nil {
		s.log.ErrorContext(ctx, "schedule carries an unreadable request, deactivating",
			logger.IntField("schedule_id", int(schedule.ID)),
			logger.ErrorField(err),
		)
		if err := s.scheduleRepo.Deactivate(ctx, schedule.ID); err != nil {
			s.log.ErrorContext(ctx, "failed to deactivate schedule", logger.ErrorField(err))
		}
		return
	}

	s.log.InfoContext(runCtx, "running scheduled backtest",
		logger.StringField("name", schedule.Name),
		logger.StringField("ticker", req.Ticker),
	)
	if _, err := s.backtests.RunBacktest(runCtx, req); err != nil {
		s.log.ErrorContext(runCtx, "scheduled backtest failed",
			logger.StringField("name", schedule.Name),
			logger.ErrorField(err),
		)
	}

	next, err := s.nextRun(schedule.CronExpression, ranAt)
	if err != nil {
		// Expressions are validated at creation; a parse failure here means
		// the row was edited out of band.
		s.log.ErrorContext(ctx, "invalid cron expression on stored schedule, deactivating",
			logger.IntField("schedule_id", int(schedule.ID)),
			logger.ErrorField(err),
		)
		if err := s.scheduleRepo.Deactivate(ctx, schedule.ID); err != nil {
			s.log.ErrorContext(ctx, "failed to deactivate schedule", logger.ErrorField(err))
		}
		return
	}
	if err := s.scheduleRepo.MarkExecuted(ctx, schedule.ID, ranAt, next); err != nil {
		s.log.ErrorContext(ctx, "failed to mark schedule executed", logger.ErrorField(err))
	}
}

func (s *schedulerService) CreateSchedule(ctx context.Context, req dto.ScheduleRequest) (*model.BacktestSchedule, error) {
	if _, _, err := req.Request.DateRange(); err != nil {
		return nil, err
	}
	next, err := s.nextRun(req.CronExpression, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", req.CronExpression, err)
	}

	encoded, err := json.Marshal(req.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schedule request: %w", err)
	}

	schedule := &model.BacktestSchedule{
		Name:           req.Name,
		CronExpression: req.CronExpression,
		Request:        encoded,
		IsActive:       true,
		NextRunAt:      sqlTime(next),
	}
	if err := s.scheduleRepo.Create(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

func (s *schedulerService) DeactivateSchedule(ctx context.Context, id uint) error {
	return s.scheduleRepo.Deactivate(ctx, id)
}

func sqlTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func (s *schedulerService) nextRun(expression string, after time.Time) (time.Time, error) {
	spec, err := s.parser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(after), nil
}
