package marketdata

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Demo synthesizes OHLCV series from a random walk seeded by the ticker and
// period, so the same request always yields the same prices. It exists so
// the whole pipeline runs without a market-data account.
type Demo struct{}

func NewDemo() *Demo {
	return &Demo{}
}

// Fetch generates one daily bar per trading day, newest bar dated today (or
// the preceding weekday).
func (d *Demo) Fetch(ctx domain.Context, ticker, period string) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, ok := barsPerPeriod[period]
	if !ok {
		return nil, fmt.Errorf("op=marketdata.demo: unsupported period %q: %w", period, domain.ErrInvalidArgument)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(ticker))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(period))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	days := make([]time.Time, n)
	day := tradingDay(time.Now().UTC())
	for i := n - 1; i >= 0; i-- {
		days[i] = day
		day = tradingDay(day.AddDate(0, 0, -1))
	}

	price := 50 + rng.Float64()*950
	drift := (rng.Float64() - 0.45) * 0.002 // slight per-ticker bias, bull or bear
	baseVol := 100_000 + rng.Int63n(4_900_000)

	out := make([]domain.Candle, n)
	for i, ts := range days {
		ret := drift + rng.NormFloat64()*0.02
		ret = math.Max(-0.05, math.Min(0.05, ret))
		open := price
		price = open * (1 + ret)
		hi := math.Max(open, price) * (1 + rng.Float64()*0.01)
		lo := math.Min(open, price) * (1 - rng.Float64()*0.01)
		out[i] = domain.Candle{
			Ts:     ts,
			Open:   round2(open),
			High:   round2(hi),
			Low:    round2(lo),
			Close:  round2(price),
			Volume: baseVol + int64(float64(baseVol)*math.Abs(ret)*20),
		}
	}
	observability.MarketDataFetch("demo", "ok")
	return out, nil
}

// tradingDay truncates to midnight UTC and rolls weekend dates back to the
// preceding Friday.
func tradingDay(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, -2)
	}
	return t
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
