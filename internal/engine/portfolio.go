package engine

import (
	"fmt"
	"math"
	"time"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

type TriggerType string

const (
	TriggerManual     TriggerType = "MANUAL"
	TriggerStopLoss   TriggerType = "STOP_LOSS"
	TriggerTakeProfit TriggerType = "TAKE_PROFIT"
)

// Position is an open holding. StopLoss and TakeProfit of zero mean unset.
type Position struct {
	Ticker     string    `json:"ticker"`
	Sector     string    `json:"sector,omitempty"`
	Shares     float64   `json:"shares"`
	CostBasis  float64   `json:"cost_basis"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	OpenedOn   time.Time `json:"opened_on"`
}

// Trade is one executed fill. PnL fields are populated on SELL only.
type Trade struct {
	Date      time.Time   `json:"date"`
	Ticker    string      `json:"ticker"`
	Action    Action      `json:"action"`
	Shares    float64     `json:"shares"`
	Price     float64     `json:"price"`
	Fee       float64     `json:"fee"`
	CashAfter float64     `json:"cash_after"`
	Trigger   TriggerType `json:"trigger"`
	Reason    string      `json:"reason,omitempty"`
	PnL       float64     `json:"pnl,omitempty"`
	PnLPct    float64     `json:"pnl_pct,omitempty"`
}

type EquitySnapshot struct {
	Date          time.Time `json:"date"`
	Cash          float64   `json:"cash"`
	InvestedValue float64   `json:"invested_value"`
	TotalEquity   float64   `json:"total_equity"`
}

// PortfolioState tracks cash, open positions and the append-only trade log.
// Cash can never go negative: trades that would breach it are rejected
// before any state changes, never clipped after the fact.
type PortfolioState struct {
	initialCash float64
	cash        float64
	positions   map[string]Position
	trades      []Trade
	equity      []EquitySnapshot
}

func NewPortfolioState(initialCash float64) (*PortfolioState, error) {
	if initialCash <= 0 {
		return nil, fmt.Errorf("initial cash must be positive, got %.2f", initialCash)
	}
	return &PortfolioState{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]Position),
	}, nil
}

func (p *PortfolioState) Cash() float64 { return p.cash }

func (p *PortfolioState) Position(ticker string) (Position, bool) {
	pos, ok := p.positions[ticker]
	return pos, ok
}

func (p *PortfolioState) Positions() map[string]Position {
	out := make(map[string]Position, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out
}

func (p *PortfolioState) Trades() []Trade {
	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

func (p *PortfolioState) EquityCurve() []EquitySnapshot {
	out := make([]EquitySnapshot, len(p.equity))
	copy(out, p.equity)
	return out
}

// InvestedValue marks every open position with the supplied prices, falling
// back to cost basis when a ticker has no mark.
func (p *PortfolioState) InvestedValue(marks map[string]float64) float64 {
	var total float64
	for ticker, pos := range p.positions {
		price, ok := marks[ticker]
		if !ok || price <= 0 {
			price = pos.CostBasis
		}
		total += pos.Shares * price
	}
	return total
}

// Buy opens or grows a position. A repeat buy averages the cost basis over
// the combined shares. The fee is added to the cash outflow.
func (p *PortfolioState) Buy(date time.Time, ticker, sector string, shares, price, fee, stopLoss, takeProfit float64, trigger TriggerType, reason string) (Trade, error) {
	if shares <= 0 || price <= 0 {
		return Trade{}, fmt.Errorf("buy %s: shares and price must be positive", ticker)
	}

	cost := shares*price + fee
	if cost > p.cash {
		return Trade{}, &InsufficientFundsError{Ticker: ticker, Required: cost, Available: p.cash}
	}

	pos, exists := p.positions[ticker]
	if exists {
		combined := pos.Shares + shares
		pos.CostBasis = (pos.Shares*pos.CostBasis + shares*price) / combined
		pos.Shares = combined
		if stopLoss > 0 {
			pos.StopLoss = stopLoss
		}
		if takeProfit > 0 {
			pos.TakeProfit = takeProfit
		}
	} else {
		pos = Position{
			Ticker:     ticker,
			Sector:     sector,
			Shares:     shares,
			CostBasis:  price,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			OpenedOn:   date,
		}
	}

	p.cash -= cost
	p.positions[ticker] = pos

	trade := Trade{
		Date:      date,
		Ticker:    ticker,
		Action:    ActionBuy,
		Shares:    shares,
		Price:     price,
		Fee:       fee,
		CashAfter: p.cash,
		Trigger:   trigger,
		Reason:    reason,
	}
	p.trades = append(p.trades, trade)
	return trade, nil
}

// Sell reduces or closes a position. The fee is deducted from proceeds and
// realized PnL is measured against the averaged cost basis.
func (p *PortfolioState) Sell(date time.Time, ticker string, shares, price, fee float64, trigger TriggerType, reason string) (Trade, error) {
	if shares <= 0 || price <= 0 {
		return Trade{}, fmt.Errorf("sell %s: shares and price must be positive", ticker)
	}

	pos, exists := p.positions[ticker]
	if !exists {
		return Trade{}, fmt.Errorf("sell %s: no open position", ticker)
	}
	if shares > pos.Shares+1e-9 {
		return Trade{}, fmt.Errorf("sell %s: %.4f shares requested, %.4f held", ticker, shares, pos.Shares)
	}
	if shares > pos.Shares {
		shares = pos.Shares
	}

	proceeds := shares*price - fee
	p.cash += proceeds

	pnl := (price-pos.CostBasis)*shares - fee
	pnlPct := (price/pos.CostBasis - 1) * 100

	pos.Shares -= shares
	if pos.Shares <= 1e-9 {
		delete(p.positions, ticker)
	} else {
		p.positions[ticker] = pos
	}

	trade := Trade{
		Date:      date,
		Ticker:    ticker,
		Action:    ActionSell,
		Shares:    shares,
		Price:     price,
		Fee:       fee,
		CashAfter: p.cash,
		Trigger:   trigger,
		Reason:    reason,
		PnL:       pnl,
		PnLPct:    pnlPct,
	}
	p.trades = append(p.trades, trade)
	return trade, nil
}

// Snapshot appends an equity point for the date and reconciles tracked cash
// against the cash implied by the trade log. A mismatch means the simulation
// corrupted its own state and returns an InvariantViolationError.
func (p *PortfolioState) Snapshot(date time.Time, marks map[string]float64) (EquitySnapshot, error) {
	implied := p.initialCash
	for _, t := range p.trades {
		switch t.Action {
		case ActionBuy:
			implied -= t.Shares*t.Price + t.Fee
		case ActionSell:
			implied += t.Shares*t.Price - t.Fee
		}
	}
	if math.Abs(implied-p.cash) > 1e-6 {
		return EquitySnapshot{}, &InvariantViolationError{Date: date, Expected: implied, Actual: p.cash}
	}

	invested := p.InvestedValue(marks)
	snap := EquitySnapshot{
		Date:          date,
		Cash:          p.cash,
		InvestedValue: invested,
		TotalEquity:   p.cash + invested,
	}
	p.equity = append(p.equity, snap)
	return snap, nil
}
