package engine

import "math"

// Indicators are pure functions over History output. Each returns NaN when
// the supplied history is too short; callers must treat NaN as
// decision-blocking rather than a value.

// SMA is the simple moving average of closes over the last period bars.
func SMA(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return math.NaN()
	}
	var sum float64
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}

// EMA is the exponential moving average of closes, seeded with the SMA of
// the first period bars.
func EMA(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return math.NaN()
	}
	var seed float64
	for _, b := range bars[:period] {
		seed += b.Close
	}
	ema := seed / float64(period)

	k := 2.0 / float64(period+1)
	for _, b := range bars[period:] {
		ema = b.Close*k + ema*(1-k)
	}
	return ema
}

// RSI is Wilder's relative strength index over the last period bars.
// Returns 100 when there were no losses in the window.
func RSI(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return math.NaN()
	}

	var gain, loss float64
	recent := bars[len(bars)-period-1:]
	for i := 1; i < len(recent); i++ {
		delta := recent[i].Close - recent[i-1].Close
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}

	if loss == 0 {
		return 100
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100 - 100/(1+rs)
}

// MACD returns the MACD line, signal line and histogram for the classic
// fast/slow/signal configuration (usually 12/26/9).
func MACD(bars []Bar, fast, slow, signal int) (macd, signalLine, histogram float64) {
	nan := math.NaN()
	if fast <= 0 || slow <= fast || signal <= 0 || len(bars) < slow+signal {
		return nan, nan, nan
	}

	// Signal is the EMA of the MACD series, so the line has to be rebuilt
	// bar by bar over the signal span.
	series := make([]float64, 0, signal)
	for i := len(bars) - signal; i <= len(bars); i++ {
		sub := bars[:i]
		if len(sub) < slow {
			return nan, nan, nan
		}
		series = append(series, EMA(sub, fast)-EMA(sub, slow))
	}

	macd = series[len(series)-1]
	k := 2.0 / float64(signal+1)
	signalLine = series[0]
	for _, v := range series[1:] {
		signalLine = v*k + signalLine*(1-k)
	}
	return macd, signalLine, macd - signalLine
}

// Bollinger returns the upper, middle and lower bands for the given period
// and standard-deviation multiplier.
func Bollinger(bars []Bar, period int, mult float64) (upper, middle, lower float64) {
	nan := math.NaN()
	if period <= 1 || len(bars) < period {
		return nan, nan, nan
	}

	middle = SMA(bars, period)
	var variance float64
	for _, b := range bars[len(bars)-period:] {
		d := b.Close - middle
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return middle + mult*sd, middle, middle - mult*sd
}

// ATR is Wilder's average true range over the last period bars.
func ATR(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return math.NaN()
	}

	recent := bars[len(bars)-period-1:]
	var sum float64
	for i := 1; i < len(recent); i++ {
		tr := recent[i].High - recent[i].Low
		if hc := math.Abs(recent[i].High - recent[i-1].Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(recent[i].Low - recent[i-1].Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}
