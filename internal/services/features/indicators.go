package features

import "math"

// wilderRSI converts Wilder average gain/loss into an RSI value. The
// degenerate flat-market cases return neutral rather than dividing by zero.
func wilderRSI(avgGain, avgLoss float64) float64 {
	const eps = 1e-12
	switch {
	case avgGain < eps && avgLoss < eps:
		return 50
	case avgLoss < eps:
		return 99
	case avgGain < eps:
		return 1
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	return clamp(rsi, 1, 99)
}

// emaStep advances an exponential moving average by one observation.
func emaStep(prev, value float64, period int) float64 {
	k := 2.0 / (float64(period) + 1)
	return (value-prev)*k + prev
}

// bollinger returns (upper, middle, lower) over the trailing period, using
// population standard deviation.
func bollinger(closes []float64, period int, mult float64) (upper, middle, lower float64, ok bool) {
	if len(closes) < period {
		return 0, 0, 0, false
	}
	window := closes[len(closes)-period:]
	sma := mean(window)
	variance := 0.0
	for _, v := range window {
		d := v - sma
		variance += d * d
	}
	variance /= float64(period)
	std := math.Sqrt(variance)
	return sma + mult*std, sma, sma - mult*std, true
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if v := math.Abs(high - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(low - prevClose); v > tr {
		tr = v
	}
	return tr
}

// momentum is the fractional close change over lookback closed candles.
func momentum(closes []float64, lookback int) (float64, bool) {
	if len(closes) < lookback+1 {
		return 0, false
	}
	ref := closes[len(closes)-lookback-1]
	if ref == 0 {
		return 0, false
	}
	return (closes[len(closes)-1] - ref) / ref, true
}

// stdReturns is the standard deviation of simple returns over the trailing
// period.
func stdReturns(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	window := closes[len(closes)-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			return 0, false
		}
		returns = append(returns, (window[i]-window[i-1])/window[i-1])
	}
	m := mean(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - m
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance), true
}

// rollingCorrelation is the Pearson correlation of close-to-close returns of
// two series over the trailing window.
func rollingCorrelation(a, b []float64, window int) (float64, bool) {
	n := window
	if len(a) < n+1 || len(b) < n+1 {
		return 0, false
	}
	ra := tailReturns(a, n)
	rb := tailReturns(b, n)
	if ra == nil || rb == nil {
		return 0, false
	}
	ma, mb := mean(ra), mean(rb)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da := ra[i] - ma
		db := rb[i] - mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va <= 0 || vb <= 0 {
		return 0, false
	}
	return cov / math.Sqrt(va*vb), true
}

func tailReturns(closes []float64, n int) []float64 {
	window := closes[len(closes)-n-1:]
	out := make([]float64, 0, n)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			return nil
		}
		out = append(out, (window[i]-window[i-1])/window[i-1])
	}
	return out
}

// percentile is the fraction of history strictly below v.
func percentile(hist []float64, v float64) float64 {
	if len(hist) == 0 {
		return 0.5
	}
	below := 0
	for _, h := range hist {
		if h < v {
			below++
		}
	}
	return float64(below) / float64(len(hist))
}

func appendBounded(s []float64, v float64, keep int) []float64 {
	s = append(s, v)
	if len(s) > keep {
		s = s[len(s)-keep:]
	}
	return s
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func minOf(s []float64) float64 {
	m := math.Inf(1)
	for _, v := range s {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(s []float64) float64 {
	m := math.Inf(-1)
	for _, v := range s {
		if v > m {
			m = v
		}
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
