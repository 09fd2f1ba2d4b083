package indicator

import (
	"math"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// ATR computes the Wilder-smoothed average true range over period bars.
// Returns 0 when the series is shorter than period+1 bars.
func ATR(cs []domain.Candle, period int) float64 {
	if period <= 0 || len(cs) < period+1 {
		return 0
	}
	trs := make([]float64, 0, len(cs)-1)
	for i := 1; i < len(cs); i++ {
		hl := cs[i].High - cs[i].Low
		hc := math.Abs(cs[i].High - cs[i-1].Close)
		lc := math.Abs(cs[i].Low - cs[i-1].Close)
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}
	atr := 0.0
	for _, v := range trs[:period] {
		atr += v
	}
	atr /= float64(period)
	for _, v := range trs[period:] {
		atr = (atr*float64(period-1) + v) / float64(period)
	}
	return atr
}

func closes(cs []domain.Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// sma is the mean of the last n values.
func sma(vals []float64, n int) float64 {
	if n <= 0 || len(vals) < n {
		return 0
	}
	sum := 0.0
	for _, v := range vals[len(vals)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// emaSeries returns the exponential moving average stream: out[0] seeds with
// the SMA of the first n values, so len(out) == len(vals)-n+1. Nil when the
// input is too short.
func emaSeries(vals []float64, n int) []float64 {
	if n <= 0 || len(vals) < n {
		return nil
	}
	out := make([]float64, 0, len(vals)-n+1)
	seed := 0.0
	for _, v := range vals[:n] {
		seed += v
	}
	out = append(out, seed/float64(n))
	alpha := 2 / (float64(n) + 1)
	for _, v := range vals[n:] {
		out = append(out, alpha*v+(1-alpha)*out[len(out)-1])
	}
	return out
}

// stddev is the population standard deviation of the last n values.
func stddev(vals []float64, n int) float64 {
	if n <= 0 || len(vals) < n {
		return 0
	}
	mean := sma(vals, n)
	sum := 0.0
	for _, v := range vals[len(vals)-n:] {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

// rsiValue is the Wilder-smoothed relative strength index of the full series.
func rsiValue(vals []float64, n int) float64 {
	gains, losses := 0.0, 0.0
	for i := 1; i <= n; i++ {
		d := vals[i] - vals[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgG := gains / float64(n)
	avgL := losses / float64(n)
	for i := n + 1; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgG = (avgG*float64(n-1) + g) / float64(n)
		avgL = (avgL*float64(n-1) + l) / float64(n)
	}
	if avgL == 0 {
		if avgG == 0 {
			return 50
		}
		return 100
	}
	rs := avgG / avgL
	return 100 - 100/(1+rs)
}

// obvSeries accumulates on-balance volume bar by bar, starting at zero.
func obvSeries(cs []domain.Candle) []float64 {
	out := make([]float64, len(cs))
	for i := 1; i < len(cs); i++ {
		out[i] = out[i-1]
		switch {
		case cs[i].Close > cs[i-1].Close:
			out[i] += float64(cs[i].Volume)
		case cs[i].Close < cs[i-1].Close:
			out[i] -= float64(cs[i].Volume)
		}
	}
	return out
}

func last(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
