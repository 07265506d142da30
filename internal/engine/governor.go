package engine

import (
	"fmt"
	"math"
)

// Quote is the governor's view of the instrument at validation time.
// MarketCap is numeric at this boundary; upstream adapters are responsible
// for parsing whatever textual form their source reports.
type Quote struct {
	Ticker    string
	Price     float64
	MarketCap float64 // 0 means unknown
	Sector    string
}

type GovernorConfig struct {
	MaxPositionPct    float64 `json:"max_position_pct"`
	MaxSectorPct      float64 `json:"max_sector_pct"`
	MinCashReservePct float64 `json:"min_cash_reserve_pct"`
	MarketCapCeiling  float64 `json:"market_cap_ceiling,omitempty"` // 0 disables the check
	TradableUnit      float64 `json:"tradable_unit,omitempty"`      // 0 means whole shares
	FeeRate           float64 `json:"fee_rate,omitempty"`
}

// RiskGovernor validates proposed decisions against portfolio constraints.
// Checks run in a fixed order: eligibility, position ceiling, sector
// ceiling, cash floor. The position ceiling clamps the order down instead of
// rejecting it; every other breach is a typed rejection carrying the largest
// order that would have passed.
type RiskGovernor struct {
	cfg GovernorConfig
}

func NewRiskGovernor(cfg GovernorConfig) *RiskGovernor {
	return &RiskGovernor{cfg: cfg}
}

// Validate returns the decision, possibly with a clamped size. HOLD and SELL
// pass through untouched: reducing exposure never violates a ceiling.
func (g *RiskGovernor) Validate(d Decision, p *PortfolioState, q Quote, marks map[string]float64) (Decision, error) {
	if d.Action != ActionBuy {
		return d, nil
	}
	if q.Price <= 0 {
		return d, fmt.Errorf("validate %s: quote price must be positive", d.Ticker)
	}

	if g.cfg.MarketCapCeiling > 0 {
		if q.MarketCap <= 0 {
			return d, &IneligibleInstrumentError{Ticker: d.Ticker, Reason: "market cap unknown"}
		}
		if q.MarketCap > g.cfg.MarketCapCeiling {
			return d, &IneligibleInstrumentError{
				Ticker: d.Ticker,
				Reason: fmt.Sprintf("market cap %.0f exceeds ceiling %.0f", q.MarketCap, g.cfg.MarketCapCeiling),
			}
		}
	}

	equity := p.Cash() + p.InvestedValue(marks)
	notional := d.Amount
	if d.Shares > 0 {
		notional = d.Shares * q.Price
	}
	if notional <= 0 {
		return d, &ConstraintViolationError{Rule: "order_size", Reason: "order has no size"}
	}

	if g.cfg.MaxPositionPct > 0 {
		var existing float64
		if pos, ok := p.Position(d.Ticker); ok {
			price, has := marks[d.Ticker]
			if !has || price <= 0 {
				price = q.Price
			}
			existing = pos.Shares * price
		}

		unit := g.cfg.TradableUnit
		if unit <= 0 {
			unit = 1
		}

		limit := g.cfg.MaxPositionPct * equity
		if existing+notional > limit {
			headroom := limit - existing
			if headroom <= 0 || math.Floor(headroom/(q.Price*unit)) < 1 {
				return d, &ConstraintViolationError{
					Rule: "position_ceiling",
					Reason: fmt.Sprintf("no tradable headroom left for %s under the %.1f%% position ceiling",
						d.Ticker, g.cfg.MaxPositionPct*100),
				}
			}
			// Clamp instead of rejecting: take the largest size that fits.
			notional = headroom
			d.Amount = headroom
			d.Shares = 0
			d.Rationale = appendNote(d.Rationale, fmt.Sprintf("size clamped to %.2f by position ceiling", headroom))
		}
	}

	if g.cfg.MaxSectorPct > 0 && q.Sector != "" {
		var sectorValue float64
		for ticker, pos := range p.Positions() {
			if pos.Sector != q.Sector {
				continue
			}
			price, has := marks[ticker]
			if !has || price <= 0 {
				price = pos.CostBasis
			}
			sectorValue += pos.Shares * price
		}

		limit := g.cfg.MaxSectorPct * equity
		if sectorValue+notional > limit {
			suggested := limit - sectorValue
			if suggested < 0 {
				suggested = 0
			}
			return d, &ConstraintViolationError{
				Rule: "sector_ceiling",
				Reason: fmt.Sprintf("sector %s would reach %.1f%% of equity, cap is %.1f%%",
					q.Sector, (sectorValue+notional)/equity*100, g.cfg.MaxSectorPct*100),
				SuggestedNotional: suggested,
			}
		}
	}

	if g.cfg.MinCashReservePct > 0 {
		floor := g.cfg.MinCashReservePct * equity
		// The executor adds a proportional fee on top of the notional; the
		// floor check has to survive the same cash outflow.
		cost := notional * (1 + g.cfg.FeeRate)
		if p.Cash()-cost < floor {
			suggested := (p.Cash() - floor) / (1 + g.cfg.FeeRate)
			if suggested < 0 {
				suggested = 0
			}
			return d, &ConstraintViolationError{
				Rule: "cash_floor",
				Reason: fmt.Sprintf("trade would leave %.2f cash, floor is %.2f",
					p.Cash()-cost, floor),
				SuggestedNotional: suggested,
			}
		}
	}

	return d, nil
}

func appendNote(rationale, note string) string {
	if rationale == "" {
		return note
	}
	return rationale + "; " + note
}
