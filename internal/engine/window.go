package engine

import (
	"math"
	"time"
)

// Bar is a single OHLCV candle. Bars are values and never mutated.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketWindow exposes historical bars strictly up to its current date.
// Callers can only move forward in time, so nothing derived from the window
// can observe a price that had not printed yet.
type MarketWindow struct {
	ticker string
	bars   []Bar
	cursor int // index of the newest visible bar, -1 before the first advance
}

// NewMarketWindow validates the series before windowing it. Bars must be
// strictly ascending by date with positive, internally consistent prices.
func NewMarketWindow(ticker string, bars []Bar) (*MarketWindow, error) {
	if ticker == "" {
		return nil, &DataIntegrityError{Ticker: ticker, Reason: "empty ticker"}
	}
	if len(bars) == 0 {
		return nil, &DataIntegrityError{Ticker: ticker, Reason: "empty bar series"}
	}

	owned := make([]Bar, len(bars))
	copy(owned, bars)

	var prev time.Time
	for i, b := range owned {
		day := truncateDay(b.Date)
		owned[i].Date = day

		if i > 0 && !day.After(prev) {
			return nil, &DataIntegrityError{Ticker: ticker, Reason: "bars not strictly ascending by date"}
		}
		prev = day

		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return nil, &DataIntegrityError{Ticker: ticker, Reason: "non-positive price on " + day.Format("2006-01-02")}
		}
		if b.High < b.Low || b.High < b.Open || b.High < b.Close || b.Low > b.Open || b.Low > b.Close {
			return nil, &DataIntegrityError{Ticker: ticker, Reason: "inconsistent OHLC on " + day.Format("2006-01-02")}
		}
		if b.Volume < 0 {
			return nil, &DataIntegrityError{Ticker: ticker, Reason: "negative volume on " + day.Format("2006-01-02")}
		}
	}

	return &MarketWindow{ticker: ticker, bars: owned, cursor: -1}, nil
}

func (w *MarketWindow) Ticker() string { return w.ticker }

// FirstDate and LastDate bound the series. They reveal the coverage of the
// data set, not future prices, so the orchestrator may use them for scheduling.
func (w *MarketWindow) FirstDate() time.Time { return w.bars[0].Date }
func (w *MarketWindow) LastDate() time.Time  { return w.bars[len(w.bars)-1].Date }

// AdvanceTo moves the window forward to the given date. It returns the bar
// printed exactly on that date and true, or the zero Bar and false when the
// date has no bar (holiday, weekend) or lies before the current position.
// The window never rewinds.
func (w *MarketWindow) AdvanceTo(date time.Time) (Bar, bool) {
	day := truncateDay(date)

	if w.cursor >= 0 && !day.After(w.bars[w.cursor].Date) {
		if day.Equal(w.bars[w.cursor].Date) {
			return w.bars[w.cursor], true
		}
		return Bar{}, false
	}

	moved := false
	for next := w.cursor + 1; next < len(w.bars) && !w.bars[next].Date.After(day); next++ {
		w.cursor = next
		moved = true
	}

	if moved && w.bars[w.cursor].Date.Equal(day) {
		return w.bars[w.cursor], true
	}
	return Bar{}, false
}

// CurrentBar returns the newest visible bar, false before the first advance.
func (w *MarketWindow) CurrentBar() (Bar, bool) {
	if w.cursor < 0 {
		return Bar{}, false
	}
	return w.bars[w.cursor], true
}

// CurrentDate returns the date of the newest visible bar, or the zero time
// before the first advance.
func (w *MarketWindow) CurrentDate() time.Time {
	if w.cursor < 0 {
		return time.Time{}
	}
	return w.bars[w.cursor].Date
}

// LatestClose returns the newest visible close, NaN before the first advance.
func (w *MarketWindow) LatestClose() float64 {
	if w.cursor < 0 {
		return math.NaN()
	}
	return w.bars[w.cursor].Close
}

// History returns up to lookback bars ending at the current date, oldest
// first. The slice is a copy; mutating it cannot poison the window.
func (w *MarketWindow) History(lookback int) []Bar {
	if w.cursor < 0 || lookback <= 0 {
		return nil
	}
	start := w.cursor + 1 - lookback
	if start < 0 {
		start = 0
	}
	out := make([]Bar, w.cursor+1-start)
	copy(out, w.bars[start:w.cursor+1])
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
