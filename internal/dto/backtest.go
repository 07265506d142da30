package dto

import (
	"fmt"
	"time"

	"golang-backtest/internal/engine"
	"golang-backtest/pkg/utils"
)

// BacktestRequest is the wire form of a run request. Zero-valued optional
// fields fall back to the configured defaults in the service layer.
type BacktestRequest struct {
	Ticker           string  `json:"ticker" validate:"required"`
	Sector           string  `json:"sector,omitempty"`
	StartDate        string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate          string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	InitialCapital   float64 `json:"initial_capital,omitempty" validate:"omitempty,gt=0"`
	FeeRate          float64 `json:"fee_rate,omitempty" validate:"omitempty,gte=0,lt=1"`
	DecisionInterval int     `json:"decision_interval,omitempty" validate:"omitempty,gt=0"`
	WarmupBars       int     `json:"warmup_bars,omitempty" validate:"omitempty,gte=0"`
	TradableUnit     float64 `json:"tradable_unit,omitempty" validate:"omitempty,gt=0"`
	BenchmarkTicker  string  `json:"benchmark_ticker,omitempty"`
}

func (r BacktestRequest) DateRange() (start, end time.Time, err error) {
	start, err = utils.ParseDate(r.StartDate)
	if err != nil {
		return start, end, fmt.Errorf("invalid start date: %w", err)
	}
	end, err = utils.ParseDate(r.EndDate)
	if err != nil {
		return start, end, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("end date %s before start date %s", r.EndDate, r.StartDate)
	}
	return start, end, nil
}

// BacktestResponse wraps the run outcome with its persistence id.
type BacktestResponse struct {
	ID     uint                   `json:"id,omitempty"`
	Result *engine.BacktestResult `json:"result"`
}

// BacktestSummary is the list view of a persisted run.
type BacktestSummary struct {
	ID          uint      `json:"id"`
	Ticker      string    `json:"ticker"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Status      string    `json:"status"`
	FinalEquity float64   `json:"final_equity"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScheduleRequest registers a recurring re-run of a backtest request.
type ScheduleRequest struct {
	Name           string          `json:"name" validate:"required"`
	CronExpression string          `json:"cron_expression" validate:"required"`
	Request        BacktestRequest `json:"request" validate:"required"`
}
