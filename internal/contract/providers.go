package contract

import (
	"context"
	"time"

	"golang-backtest/internal/dto"
	"golang-backtest/internal/engine"
)

// MarketDataProvider feeds the engine with historical bars and instrument
// metadata. Returned data is untrusted; the engine validates it before
// building a window.
type MarketDataProvider interface {
	GetBars(ctx context.Context, ticker string, start, end time.Time) ([]engine.Bar, error)
	GetQuote(ctx context.Context, ticker string) (*engine.Quote, error)
}

// DecisionProvider produces a single decision for a bounded context.
type DecisionProvider interface {
	ID() string
	Decide(ctx context.Context, dc engine.DecisionContext) (*engine.Decision, error)
}

// VoteProvider is a weighted voter in a consensus panel. One ballot carries
// both the strategy vote and the risk vote of the source.
type VoteProvider interface {
	ID() string
	Weight() float64
	Vote(ctx context.Context, dc engine.DecisionContext) (*dto.Ballot, error)
}
