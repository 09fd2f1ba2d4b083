// Package indicator implements the technical-analysis kernels behind the
// composite score. Every kernel is a pure function over an OHLCV series
// ordered oldest first; a series shorter than the kernel's window yields a
// neutral signal (vote 0, confidence 0) rather than an error, so one short
// history never fails a whole ticker.
package indicator

import (
	"fmt"
	"math"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Kernel is one indicator: a name, its aggregation category and the window
// it needs before it can vote.
type Kernel struct {
	Name     string
	Category domain.Category
	MinBars  int
	eval     func(cs []domain.Candle) (vote int, confidence float64, err error)
}

// Evaluate runs the kernel over the series. Confidence is clamped to [0,1];
// a non-finite result is reported as a fault instead of poisoning the
// aggregate.
func (k Kernel) Evaluate(cs []domain.Candle) (domain.Signal, error) {
	s := domain.Signal{Name: k.Name, Category: k.Category}
	if len(cs) < k.MinBars {
		return s, nil
	}
	vote, conf, err := k.eval(cs)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("op=indicator.%s: %w", k.Name, err)
	}
	if !finite(conf) {
		return domain.Signal{}, fmt.Errorf("op=indicator.%s: non-finite confidence", k.Name)
	}
	s.Vote = vote
	s.Confidence = clamp01(conf)
	return s, nil
}

// Registry returns every kernel in canonical order. All are enabled by
// default; requests can switch individual ones off by name.
func Registry() []Kernel {
	return []Kernel{
		{Name: "sma_cross", Category: domain.CategoryTrend, MinBars: 200, eval: smaCross},
		{Name: "ema_cross", Category: domain.CategoryTrend, MinBars: 26, eval: emaCross},
		{Name: "macd", Category: domain.CategoryMomentum, MinBars: 34, eval: macdSignal},
		{Name: "rsi", Category: domain.CategoryMomentum, MinBars: 15, eval: rsiSignal},
		{Name: "stochastic", Category: domain.CategoryMomentum, MinBars: 16, eval: stochasticSignal},
		{Name: "bollinger", Category: domain.CategoryVolatility, MinBars: 20, eval: bollingerSignal},
		{Name: "atr_trend", Category: domain.CategoryVolatility, MinBars: 29, eval: atrTrendSignal},
		{Name: "obv", Category: domain.CategoryVolume, MinBars: 21, eval: obvSignal},
		{Name: "volume_surge", Category: domain.CategoryVolume, MinBars: 21, eval: volumeSurgeSignal},
	}
}

// ByName looks a kernel up in the registry.
func ByName(name string) (Kernel, bool) {
	for _, k := range Registry() {
		if k.Name == name {
			return k, true
		}
	}
	return Kernel{}, false
}

// Names lists the registry in canonical order.
func Names() []string {
	ks := Registry()
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.Name
	}
	return out
}

// smaCross votes on the 50/200 golden-cross regime. Confidence scales with
// the relative separation of the averages: 10% apart saturates to 1.
func smaCross(cs []domain.Candle) (int, float64, error) {
	c := closes(cs)
	fast := sma(c, 50)
	slow := sma(c, 200)
	if slow <= 0 {
		return 0, 0, fmt.Errorf("non-positive long average")
	}
	sep := (fast - slow) / slow
	return sign(sep), math.Abs(sep) * 10, nil
}

// emaCross is the tighter 12/26 exponential variant of the cross regime.
func emaCross(cs []domain.Candle) (int, float64, error) {
	c := closes(cs)
	fast := last(emaSeries(c, 12))
	slow := last(emaSeries(c, 26))
	if slow <= 0 {
		return 0, 0, fmt.Errorf("non-positive long average")
	}
	sep := (fast - slow) / slow
	return sign(sep), math.Abs(sep) * 25, nil
}

// macdSignal votes on the sign of the MACD histogram (12/26 line against
// its 9-bar signal), confidence on the histogram's size relative to price.
func macdSignal(cs []domain.Candle) (int, float64, error) {
	c := closes(cs)
	price := last(c)
	if price <= 0 {
		return 0, 0, fmt.Errorf("non-positive close")
	}
	fast := emaSeries(c, 12)
	slow := emaSeries(c, 26)
	// align the two streams on their common tail
	line := make([]float64, len(slow))
	off := len(fast) - len(slow)
	for i := range slow {
		line[i] = fast[i+off] - slow[i]
	}
	sig := emaSeries(line, 9)
	hist := last(line) - last(sig)
	return sign(hist), math.Abs(hist) / price * 50, nil
}

// rsiSignal is a mean-reversion vote: oversold (<=30) argues up, overbought
// (>=70) argues down, the middle stays quiet.
func rsiSignal(cs []domain.Candle) (int, float64, error) {
	r := rsiValue(closes(cs), 14)
	switch {
	case r <= 30:
		return 1, (30 - r) / 30, nil
	case r >= 70:
		return -1, (r - 70) / 30, nil
	}
	return 0, 0, nil
}

// stochasticSignal thresholds the slow %K (14-bar fast %K smoothed over 3).
func stochasticSignal(cs []domain.Candle) (int, float64, error) {
	const kPeriod, dPeriod = 14, 3
	ks := make([]float64, 0, dPeriod)
	for off := dPeriod - 1; off >= 0; off-- {
		end := len(cs) - off
		window := cs[end-kPeriod : end]
		hh, ll := window[0].High, window[0].Low
		for _, b := range window[1:] {
			hh = math.Max(hh, b.High)
			ll = math.Min(ll, b.Low)
		}
		if hh == ll {
			ks = append(ks, 50)
			continue
		}
		ks = append(ks, (cs[end-1].Close-ll)/(hh-ll)*100)
	}
	k := 0.0
	for _, v := range ks {
		k += v
	}
	k /= float64(len(ks))
	switch {
	case k <= 20:
		return 1, (20 - k) / 20, nil
	case k >= 80:
		return -1, (k - 80) / 20, nil
	}
	return 0, 0, nil
}

// bollingerSignal votes mean-reversion on 20-bar 2-sigma band escapes.
func bollingerSignal(cs []domain.Candle) (int, float64, error) {
	const n = 20
	c := closes(cs)
	sd := stddev(c, n)
	if sd == 0 {
		// flat series has no band to escape
		return 0, 0, nil
	}
	mid := sma(c, n)
	price := last(c)
	upper := mid + 2*sd
	lower := mid - 2*sd
	switch {
	case price < lower:
		return 1, (lower - price) / (2 * sd), nil
	case price > upper:
		return -1, (price - upper) / (2 * sd), nil
	}
	return 0, 0, nil
}

// atrTrendSignal votes with a 14-bar price move only when it clears one
// ATR, filtering noise drift; three ATRs of movement saturate confidence.
func atrTrendSignal(cs []domain.Candle) (int, float64, error) {
	const period = 14
	a := ATR(cs, period)
	if a <= 0 {
		return 0, 0, nil
	}
	c := closes(cs)
	move := last(c) - c[len(c)-1-period]
	if math.Abs(move) <= a {
		return 0, 0, nil
	}
	return sign(move), math.Abs(move) / (3 * a), nil
}

// obvSignal compares on-balance volume against its level 20 bars back. The
// delta is normalized by the traded volume over the window, which bounds
// confidence naturally at 1.
func obvSignal(cs []domain.Candle) (int, float64, error) {
	const lookback = 20
	series := obvSeries(cs)
	delta := series[len(series)-1] - series[len(series)-1-lookback]
	var vol float64
	for _, b := range cs[len(cs)-lookback:] {
		vol += float64(b.Volume)
	}
	if vol <= 0 {
		return 0, 0, nil
	}
	return sign(delta), math.Abs(delta) / vol, nil
}

// volumeSurgeSignal fires when the last bar trades at least twice its
// 20-bar average volume, voting in the direction of the accompanying move.
func volumeSurgeSignal(cs []domain.Candle) (int, float64, error) {
	const lookback = 20
	lastBar := cs[len(cs)-1]
	var sum float64
	for _, b := range cs[len(cs)-1-lookback : len(cs)-1] {
		sum += float64(b.Volume)
	}
	avg := sum / float64(lookback)
	if avg <= 0 {
		return 0, 0, nil
	}
	ratio := float64(lastBar.Volume) / avg
	if ratio < 2 {
		return 0, 0, nil
	}
	dir := sign(lastBar.Close - cs[len(cs)-2].Close)
	if dir == 0 {
		return 0, 0, nil
	}
	return dir, (ratio - 1) / 3, nil
}
