package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang-backtest/pkg/logger"
)

type RunStatus string

const (
	StatusInitialized RunStatus = "INITIALIZED"
	StatusRunning     RunStatus = "RUNNING"
	StatusCompleted   RunStatus = "COMPLETED"
	StatusAborted     RunStatus = "ABORTED"
)

// DecisionSource produces one decision for a bounded context. Multi-voter
// consensus, LLM adapters and rule strategies all sit behind this.
type DecisionSource interface {
	Decide(ctx context.Context, dc DecisionContext) (*Decision, error)
}

// BacktestConfig fully describes one run. It is echoed into the result so a
// persisted run can be replayed.
type BacktestConfig struct {
	Ticker           string         `json:"ticker"`
	Sector           string         `json:"sector,omitempty"`
	MarketCap        float64        `json:"market_cap,omitempty"`
	BenchmarkTicker  string         `json:"benchmark_ticker,omitempty"`
	StartDate        time.Time      `json:"start_date"`
	EndDate          time.Time      `json:"end_date"`
	InitialCapital   float64        `json:"initial_capital"`
	FeeRate          float64        `json:"fee_rate"`
	TradableUnit     float64        `json:"tradable_unit"`
	DecisionInterval int            `json:"decision_interval"`
	WarmupBars       int            `json:"warmup_bars"`
	ContextLookback  int            `json:"context_lookback"`
	RiskFreeRate     float64        `json:"risk_free_rate"`
	ProviderRetries  int            `json:"provider_retries"`
	RetryBackoff     time.Duration  `json:"retry_backoff"`
	Governor         GovernorConfig `json:"governor"`
}

func (c *BacktestConfig) validate() error {
	if c.Ticker == "" {
		return fmt.Errorf("ticker is required")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end date before start date")
	}
	if c.DecisionInterval <= 0 {
		return fmt.Errorf("decision interval must be positive")
	}
	return nil
}

// DecisionRecord is one entry of the decision log: what the source said and
// what became of it.
type DecisionRecord struct {
	Date     time.Time `json:"date"`
	Decision *Decision `json:"decision,omitempty"`
	Degraded bool      `json:"degraded,omitempty"` // provider failed, forced HOLD
	Outcome  string    `json:"outcome"`
}

type BacktestResult struct {
	Config      BacktestConfig   `json:"config"`
	Status      RunStatus        `json:"status"`
	AbortReason string           `json:"abort_reason,omitempty"`
	Trades      []Trade          `json:"trades"`
	EquityCurve []EquitySnapshot `json:"equity_curve"`
	DecisionLog []DecisionRecord `json:"decision_log"`
	Metrics     MetricsReport    `json:"metrics"`
}

// BacktestOrchestrator drives one simulation from start to end date. The
// loop is single-threaded; concurrency lives inside the decision source.
type BacktestOrchestrator struct {
	cfg       BacktestConfig
	window    *MarketWindow
	benchmark []Bar
	portfolio *PortfolioState
	governor  *RiskGovernor
	executor  *TradeExecutor
	metrics   *MetricsCalculator
	source    DecisionSource
	log       *logger.Logger

	status      RunStatus
	decisionLog []DecisionRecord
}

func NewBacktestOrchestrator(cfg BacktestConfig, window *MarketWindow, benchmark []Bar, source DecisionSource, log *logger.Logger) (*BacktestOrchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	if window == nil || source == nil || log == nil {
		return nil, fmt.Errorf("window, source and log are required")
	}
	if cfg.TradableUnit <= 0 {
		cfg.TradableUnit = 1
	}
	if cfg.ContextLookback <= 0 {
		cfg.ContextLookback = 30
	}
	if cfg.Governor.TradableUnit <= 0 {
		cfg.Governor.TradableUnit = cfg.TradableUnit
	}
	if cfg.Governor.FeeRate <= 0 {
		cfg.Governor.FeeRate = cfg.FeeRate
	}

	portfolio, err := NewPortfolioState(cfg.InitialCapital)
	if err != nil {
		return nil, err
	}
	executor, err := NewTradeExecutor(cfg.FeeRate, cfg.TradableUnit)
	if err != nil {
		return nil, err
	}

	return &BacktestOrchestrator{
		cfg:       cfg,
		window:    window,
		benchmark: benchmark,
		portfolio: portfolio,
		governor:  NewRiskGovernor(cfg.Governor),
		executor:  executor,
		metrics:   NewMetricsCalculator(cfg.RiskFreeRate),
		source:    source,
		log:       log,
		status:    StatusInitialized,
	}, nil
}

func (o *BacktestOrchestrator) Status() RunStatus { return o.status }

// Run walks every calendar day in range. Per trading day: resolve
// protective triggers first, then ask for a decision on the configured
// cadence, validate, execute, snapshot. An abort returns the partial result
// alongside the error so no committed state is silently dropped.
func (o *BacktestOrchestrator) Run(ctx context.Context) (*BacktestResult, error) {
	if o.status != StatusInitialized {
		return nil, ErrRunNotRunnable
	}
	o.status = StatusRunning
	o.log.InfoContext(ctx, "backtest started",
		logger.StringField("ticker", o.cfg.Ticker),
		logger.TimeField("start", o.cfg.StartDate),
		logger.TimeField("end", o.cfg.EndDate),
	)

	barsSeen := 0
	var lastDecision time.Time

	for day := truncateDay(o.cfg.StartDate); !day.After(truncateDay(o.cfg.EndDate)); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return o.abort(fmt.Sprintf("cancelled: %v", err), err)
		}

		bar, ok := o.window.AdvanceTo(day)
		if !ok {
			continue
		}
		barsSeen++

		// Triggers only ever reduce exposure and the governor only
		// constrains BUYs, so the post-trigger portfolio goes straight to
		// the decision step without another validation pass.
		triggered, err := o.executor.CheckTriggers(o.window, o.portfolio)
		if err != nil {
			return o.abort(fmt.Sprintf("trigger execution failed: %v", err), err)
		}
		for _, t := range triggered {
			o.log.InfoContext(ctx, "protective exit filled",
				logger.StringField("ticker", t.Ticker),
				logger.StringField("trigger", string(t.Trigger)),
				logger.Float64Field("price", t.Price),
				logger.Float64Field("pnl", t.PnL),
			)
		}

		if barsSeen > o.cfg.WarmupBars && o.decisionDue(day, lastDecision) {
			lastDecision = day
			if err := o.decideAndExecute(ctx, day, bar); err != nil {
				return o.abort(fmt.Sprintf("decision step failed: %v", err), err)
			}
		}

		marks := map[string]float64{o.cfg.Ticker: bar.Close}
		if _, err := o.portfolio.Snapshot(day, marks); err != nil {
			return o.abort(fmt.Sprintf("equity reconciliation failed: %v", err), err)
		}
	}

	o.status = StatusCompleted
	result := o.buildResult("")
	o.log.InfoContext(ctx, "backtest completed",
		logger.StringField("ticker", o.cfg.Ticker),
		logger.IntField("trades", len(result.Trades)),
		logger.Float64Field("final_equity", result.Metrics.FinalEquity),
	)
	return result, nil
}

func (o *BacktestOrchestrator) decisionDue(day, lastDecision time.Time) bool {
	if lastDecision.IsZero() {
		return true
	}
	return int(day.Sub(lastDecision).Hours()/24) >= o.cfg.DecisionInterval
}

func (o *BacktestOrchestrator) decideAndExecute(ctx context.Context, day time.Time, bar Bar) error {
	marks := map[string]float64{o.cfg.Ticker: bar.Open}
	dc := DecisionContext{
		Ticker:      o.cfg.Ticker,
		Date:        day,
		History:     o.window.History(o.cfg.ContextLookback),
		Cash:        o.portfolio.Cash(),
		Equity:      o.portfolio.Cash() + o.portfolio.InvestedValue(marks),
		Constraints: o.cfg.Governor,
	}
	if pos, ok := o.portfolio.Position(o.cfg.Ticker); ok {
		dc.Position = &pos
	}

	decision, degraded := o.solicit(ctx, dc)
	record := DecisionRecord{Date: day, Decision: decision, Degraded: degraded}

	if decision.Action == ActionHold {
		record.Outcome = "hold"
		if degraded {
			record.Outcome = "degraded to hold after provider failures"
		}
		o.decisionLog = append(o.decisionLog, record)
		return nil
	}

	quote := Quote{
		Ticker:    o.cfg.Ticker,
		Price:     bar.Open,
		MarketCap: o.cfg.MarketCap,
		Sector:    o.cfg.Sector,
	}
	validated, err := o.governor.Validate(*decision, o.portfolio, quote, marks)
	if err != nil {
		var ineligible *IneligibleInstrumentError
		var constraint *ConstraintViolationError
		if errors.As(err, &ineligible) || errors.As(err, &constraint) {
			record.Outcome = "rejected: " + err.Error()
			o.decisionLog = append(o.decisionLog, record)
			o.log.WarnContext(ctx, "decision rejected by governor",
				logger.StringField("ticker", o.cfg.Ticker),
				logger.ErrorField(err),
			)
			return nil
		}
		return err
	}

	trade, err := o.executor.Apply(validated, o.window, o.portfolio, o.cfg.Sector)
	if err != nil {
		var funds *InsufficientFundsError
		if errors.As(err, &funds) {
			record.Outcome = "rejected: " + err.Error()
			o.decisionLog = append(o.decisionLog, record)
			return nil
		}
		return err
	}
	if trade == nil {
		record.Outcome = "no fill"
	} else {
		record.Outcome = fmt.Sprintf("filled %s %.4f @ %.4f", trade.Action, trade.Shares, trade.Price)
	}
	o.decisionLog = append(o.decisionLog, record)
	return nil
}

// solicit asks the source with retries and backoff. When every attempt
// fails the step degrades to HOLD rather than killing the run.
func (o *BacktestOrchestrator) solicit(ctx context.Context, dc DecisionContext) (*Decision, bool) {
	attempts := o.cfg.ProviderRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		decision, err := o.source.Decide(ctx, dc)
		if err == nil && decision != nil {
			if decision.Ticker == "" {
				decision.Ticker = dc.Ticker
			}
			return decision, false
		}
		if err == nil {
			err = fmt.Errorf("source returned nil decision")
		}
		lastErr = err

		if i < attempts-1 && o.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				i = attempts
			case <-time.After(o.cfg.RetryBackoff):
			}
		}
	}

	o.log.WarnContext(ctx, "decision source failed, degrading to HOLD",
		logger.StringField("ticker", dc.Ticker),
		logger.TimeField("date", dc.Date),
		logger.ErrorField(lastErr),
	)
	return &Decision{Action: ActionHold, Ticker: dc.Ticker}, true
}

func (o *BacktestOrchestrator) abort(reason string, cause error) (*BacktestResult, error) {
	o.status = StatusAborted
	result := o.buildResult(reason)
	o.log.Error("backtest aborted",
		logger.StringField("ticker", o.cfg.Ticker),
		logger.StringField("reason", reason),
	)
	return result, fmt.Errorf("backtest aborted: %w", cause)
}

func (o *BacktestOrchestrator) buildResult(abortReason string) *BacktestResult {
	trades := o.portfolio.Trades()
	curve := o.portfolio.EquityCurve()
	return &BacktestResult{
		Config:      o.cfg,
		Status:      o.status,
		AbortReason: abortReason,
		Trades:      trades,
		EquityCurve: curve,
		DecisionLog: o.decisionLog,
		Metrics:     o.metrics.Compute(curve, trades, o.benchmark),
	}
}
