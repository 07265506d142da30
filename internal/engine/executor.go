package engine

import (
	"fmt"
	"math"
	"time"
)

// TradeExecutor turns validated decisions and protective orders into fills
// against the current bar. Exactly one trade is appended per fill; a no-fill
// leaves the portfolio untouched.
type TradeExecutor struct {
	feeRate      float64
	tradableUnit float64
}

// NewTradeExecutor builds an executor with a proportional fee rate and the
// smallest tradable share increment (1 for whole shares, 0.001 for crypto).
func NewTradeExecutor(feeRate, tradableUnit float64) (*TradeExecutor, error) {
	if feeRate < 0 || feeRate >= 1 {
		return nil, fmt.Errorf("fee rate %.4f outside [0,1)", feeRate)
	}
	if tradableUnit <= 0 {
		return nil, fmt.Errorf("tradable unit must be positive, got %.6f", tradableUnit)
	}
	return &TradeExecutor{feeRate: feeRate, tradableUnit: tradableUnit}, nil
}

// CheckTriggers resolves protective exits against the current bar. It runs
// before any manual decision on the same date: an overnight gap hits the
// stop before a strategy gets a say. Fill is the open when the open already
// breaches the level, otherwise the level itself.
func (e *TradeExecutor) CheckTriggers(w *MarketWindow, p *PortfolioState) ([]Trade, error) {
	pos, ok := p.Position(w.Ticker())
	if !ok {
		return nil, nil
	}

	bar, ok := w.CurrentBar()
	if !ok {
		return nil, nil
	}

	if pos.StopLoss > 0 && bar.Low <= pos.StopLoss {
		fill := pos.StopLoss
		if bar.Open <= pos.StopLoss {
			fill = bar.Open
		}
		t, err := e.sell(bar.Date, w.Ticker(), pos.Shares, fill, p, TriggerStopLoss,
			fmt.Sprintf("stop loss %.2f hit", pos.StopLoss))
		if err != nil {
			return nil, err
		}
		return []Trade{t}, nil
	}

	if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
		fill := pos.TakeProfit
		if bar.Open >= pos.TakeProfit {
			fill = bar.Open
		}
		t, err := e.sell(bar.Date, w.Ticker(), pos.Shares, fill, p, TriggerTakeProfit,
			fmt.Sprintf("take profit %.2f hit", pos.TakeProfit))
		if err != nil {
			return nil, err
		}
		return []Trade{t}, nil
	}

	return nil, nil
}

// Apply executes a validated decision against the current bar. Market
// orders fill at the open. Limit buys fill at the open when it is already at
// or under the limit, at the limit when the low reaches it, and not at all
// otherwise; limit sells mirror that on the high. A nil trade with a nil
// error is a no-fill.
func (e *TradeExecutor) Apply(d Decision, w *MarketWindow, p *PortfolioState, sector string) (*Trade, error) {
	if d.Action == ActionHold {
		return nil, nil
	}

	bar, ok := w.CurrentBar()
	if !ok {
		return nil, fmt.Errorf("apply %s: window has no current bar", d.Ticker)
	}

	switch d.Action {
	case ActionBuy:
		fill, filled := buyFillPrice(bar, d.LimitPrice)
		if !filled {
			return nil, nil
		}

		shares := d.Shares
		if shares <= 0 {
			shares = e.floorToUnit(d.Amount / fill)
		} else {
			shares = e.floorToUnit(shares)
		}
		if shares <= 0 {
			return nil, nil
		}

		fee := shares * fill * e.feeRate
		t, err := p.Buy(bar.Date, d.Ticker, sector, shares, fill, fee, d.StopLoss, d.TakeProfit, TriggerManual, d.Rationale)
		if err != nil {
			return nil, err
		}
		return &t, nil

	case ActionSell:
		pos, held := p.Position(d.Ticker)
		if !held {
			return nil, fmt.Errorf("apply sell %s: no open position", d.Ticker)
		}

		fill, filled := sellFillPrice(bar, d.LimitPrice)
		if !filled {
			return nil, nil
		}

		shares := d.Shares
		if shares <= 0 {
			pct := d.Amount
			if pct <= 0 || pct > 100 {
				return nil, fmt.Errorf("apply sell %s: percentage %.2f outside (0,100]", d.Ticker, pct)
			}
			if pct == 100 {
				shares = pos.Shares
			} else {
				shares = e.floorToUnit(pos.Shares * pct / 100)
			}
		} else if shares > pos.Shares {
			shares = pos.Shares
		}
		if shares <= 0 {
			return nil, nil
		}

		t, err := e.sell(bar.Date, d.Ticker, shares, fill, p, TriggerManual, d.Rationale)
		if err != nil {
			return nil, err
		}
		return &t, nil

	default:
		return nil, fmt.Errorf("apply: unknown action %q", d.Action)
	}
}

func (e *TradeExecutor) sell(date time.Time, ticker string, shares, fill float64, p *PortfolioState, trigger TriggerType, reason string) (Trade, error) {
	fee := shares * fill * e.feeRate
	return p.Sell(date, ticker, shares, fill, fee, trigger, reason)
}

func buyFillPrice(bar Bar, limit float64) (float64, bool) {
	if limit <= 0 {
		return bar.Open, true
	}
	if bar.Open <= limit {
		return bar.Open, true
	}
	if bar.Low <= limit {
		return limit, true
	}
	return 0, false
}

func sellFillPrice(bar Bar, limit float64) (float64, bool) {
	if limit <= 0 {
		return bar.Open, true
	}
	if bar.Open >= limit {
		return bar.Open, true
	}
	if bar.High >= limit {
		return limit, true
	}
	return 0, false
}

func (e *TradeExecutor) floorToUnit(shares float64) float64 {
	return math.Floor(shares/e.tradableUnit) * e.tradableUnit
}
