package engine

import "time"

// Decision is a proposed portfolio action. For a BUY, Amount is a notional
// value in cash; for a SELL, Amount is a percentage (0,100] of the open
// position. An explicit Shares value takes precedence over Amount either way.
type Decision struct {
	Action     Action  `json:"action"`
	Ticker     string  `json:"ticker"`
	Amount     float64 `json:"amount,omitempty"`
	Shares     float64 `json:"shares,omitempty"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
}

// DecisionContext is everything a decision source may see: the bounded
// window snapshot, a portfolio summary and the active constraints. Nothing
// beyond the current date is ever placed here.
type DecisionContext struct {
	Ticker      string
	Date        time.Time
	History     []Bar
	Cash        float64
	Equity      float64
	Position    *Position
	Constraints GovernorConfig
}
