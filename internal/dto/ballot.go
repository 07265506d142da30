package dto

import "golang-backtest/internal/engine"

// Ballot is one voter's full answer for a decision step: its strategy vote,
// its risk assessment and, when it wants an order, a concrete proposal.
type Ballot struct {
	Strategy engine.StrategyVote `json:"strategy"`
	Risk     engine.RiskVote     `json:"risk"`
	Proposal *engine.Decision    `json:"proposal,omitempty"`
}
