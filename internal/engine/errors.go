package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientVotes is returned when a consensus fold receives no votes.
	ErrInsufficientVotes = errors.New("no votes supplied")

	// ErrWeightSum is returned when vote weights do not sum to 1.
	ErrWeightSum = errors.New("vote weights must sum to 1")

	// ErrRunNotRunnable is returned when Run is called on an orchestrator
	// that already ran or aborted.
	ErrRunNotRunnable = errors.New("backtest is not in a runnable state")
)

// DataIntegrityError reports a bar series that cannot be windowed.
type DataIntegrityError struct {
	Ticker string
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("bad bar series for %s: %s", e.Ticker, e.Reason)
}

// InsufficientFundsError reports a buy whose total cost exceeds available cash.
type InsufficientFundsError struct {
	Ticker    string
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: need %.2f, have %.2f", e.Ticker, e.Required, e.Available)
}

// IneligibleInstrumentError reports an instrument outside the eligible universe.
type IneligibleInstrumentError struct {
	Ticker string
	Reason string
}

func (e *IneligibleInstrumentError) Error() string {
	return fmt.Sprintf("instrument %s ineligible: %s", e.Ticker, e.Reason)
}

// ConstraintViolationError reports a governor rejection. SuggestedNotional is
// the largest order value that would have passed, zero when nothing would.
type ConstraintViolationError struct {
	Rule              string
	Reason            string
	SuggestedNotional float64
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint %s violated: %s", e.Rule, e.Reason)
}

// InvariantViolationError reports an equity reconciliation failure. This is
// fatal for the run: the simulation state can no longer be trusted.
type InvariantViolationError struct {
	Date     time.Time
	Expected float64
	Actual   float64
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("equity reconciliation failed on %s: expected %.4f, got %.4f",
		e.Date.Format("2006-01-02"), e.Expected, e.Actual)
}
