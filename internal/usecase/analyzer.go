// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
	"github.com/fairyhunter13/stock-analyzer/internal/indicator"
	"github.com/fairyhunter13/stock-analyzer/internal/strategy"
)

// MinCandles is the shortest series the analyzer accepts; anything below is
// reported as NoData for that ticker.
const MinCandles = 30

// Position-sizing fallbacks when the request left a knob unset.
const (
	defaultCapital       = 100_000.0
	defaultRiskPercent   = 1.0
	defaultPositionLimit = 25.0
)

// Analyzer runs the single-ticker pipeline: fetch the series, evaluate the
// enabled kernels, aggregate votes into a score, and derive the trade plan.
type Analyzer struct {
	Market domain.MarketData
	Demo   domain.MarketData // honoured when a request asks for demo data explicitly
	// DemoDefault marks Market itself as synthetic so result documents can
	// say which kind of data they were computed from.
	DemoDefault bool
	Kernels     []indicator.Kernel
}

// NewAnalyzer builds an analyzer over the full kernel registry.
func NewAnalyzer(market, demo domain.MarketData, demoDefault bool) Analyzer {
	return Analyzer{Market: market, Demo: demo, DemoDefault: demoDefault, Kernels: indicator.Registry()}
}

// AnalyzeTicker produces the result document for one ticker. Every error is
// per-ticker: the caller records it against the job and moves on.
func (a Analyzer) AnalyzeTicker(ctx domain.Context, ticker string, st strategy.Strategy, set domain.AnalysisSettings) (domain.AnalysisDoc, error) {
	src := a.Market
	usedDemo := a.DemoDefault
	if set.UseDemoData && a.Demo != nil {
		src = a.Demo
		usedDemo = true
	}
	cs, err := src.Fetch(ctx, ticker, set.DataPeriod)
	if err != nil {
		return domain.AnalysisDoc{}, fmt.Errorf("op=analysis.fetch: %s: %w", ticker, err)
	}
	if len(cs) < MinCandles {
		return domain.AnalysisDoc{}, fmt.Errorf("op=analysis.fetch: %s: %d candles, need %d: %w",
			ticker, len(cs), MinCandles, domain.ErrNoData)
	}

	st = st.Apply(set.CategoryWeights)

	signals := make([]domain.Signal, 0, len(a.Kernels))
	for _, k := range a.Kernels {
		if v, ok := set.EnabledIndicators[k.Name]; ok && !v {
			continue
		}
		sig, err := k.Evaluate(cs)
		if err != nil {
			return domain.AnalysisDoc{}, err
		}
		signals = append(signals, sig)
	}

	raw, err := aggregate(signals, st)
	if err != nil {
		return domain.AnalysisDoc{}, fmt.Errorf("op=analysis.aggregate: %s: %w", ticker, err)
	}
	score := int(math.Round(50 * (1 + raw)))

	entry := cs[len(cs)-1].Close
	atr := indicator.ATR(cs, 14)
	stop := entry - st.StopATRMult*atr
	if atr <= 0 || stop <= 0 {
		stop = entry * (1 - st.StopFallbackPct/100)
	}
	rr := set.RiskReward
	if rr <= 0 {
		rr = st.RiskReward
	}
	target := entry + rr*(entry-stop)

	return domain.AnalysisDoc{
		Ticker:   ticker,
		Symbol:   BaseSymbol(ticker),
		Score:    score,
		Verdict:  domain.VerdictForScore(score),
		Signals:  signals,
		Entry:    round2(entry),
		StopLoss: round2(stop),
		Target:   round2(target),
		ATR:      round2(atr),
		Risk:     sizePosition(entry, stop, rr, set),
		Period:   set.DataPeriod,
		Candles:  len(cs),
		Demo:     usedDemo,
		AsOf:     time.Now().UTC(),
	}, nil
}

// aggregate folds signals into a raw sentiment in [-1,1]: the confidence- and
// category-weighted mean of votes. A round where nothing voted (all neutral,
// or every voting category weighted to zero) is legitimately neutral.
func aggregate(signals []domain.Signal, st strategy.Strategy) (float64, error) {
	num, den := 0.0, 0.0
	for _, s := range signals {
		w := st.Weight(s.Category) * s.Confidence
		num += w * float64(s.Vote)
		den += w
	}
	if den == 0 {
		return 0, nil
	}
	raw := num / den
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, domain.ErrAggregation
	}
	return math.Max(-1, math.Min(1, raw)), nil
}

// sizePosition derives share count from the risk budget: capital at risk
// divided by per-share risk, then capped by the position-size limit.
func sizePosition(entry, stop, rr float64, set domain.AnalysisSettings) domain.RiskPlan {
	capital := set.Capital
	if capital <= 0 {
		capital = defaultCapital
	}
	riskPct := set.RiskPercent
	if riskPct <= 0 {
		riskPct = defaultRiskPercent
	}
	posLimit := set.PositionSizeLimit
	if posLimit <= 0 {
		posLimit = defaultPositionLimit
	}

	plan := domain.RiskPlan{RiskPercent: riskPct, RiskReward: rr}
	perShare := entry - stop
	if perShare <= 0 || entry <= 0 {
		return plan
	}
	shares := int64(capital * riskPct / 100 / perShare)
	if maxShares := int64(capital * posLimit / 100 / entry); shares > maxShares {
		shares = maxShares
	}
	plan.Shares = shares
	plan.PositionValue = round2(float64(shares) * entry)
	plan.CapitalAtRisk = round2(float64(shares) * perShare)
	return plan
}

// BaseSymbol strips a known exchange suffix off a ticker (RELIANCE.NS ->
// RELIANCE). Unknown suffixes are kept: the dot may be part of the symbol.
func BaseSymbol(ticker string) string {
	for _, suffix := range []string{".NS", ".BO"} {
		if strings.HasSuffix(ticker, suffix) {
			return strings.TrimSuffix(ticker, suffix)
		}
	}
	return ticker
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
