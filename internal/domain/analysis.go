package domain

import (
	"math"
	"time"
)

// Candle is one OHLCV bar. Series are ordered oldest first.
type Candle struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Category groups indicators for weighted aggregation.
type Category string

const (
	CategoryTrend      Category = "trend"
	CategoryMomentum   Category = "momentum"
	CategoryVolatility Category = "volatility"
	CategoryVolume     Category = "volume"
)

// Categories lists every aggregation category in canonical order.
func Categories() []Category {
	return []Category{CategoryTrend, CategoryMomentum, CategoryVolatility, CategoryVolume}
}

// Signal is one indicator's opinion: Vote in {-1,0,+1}, Confidence in [0,1].
type Signal struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	Vote       int      `json:"vote"`
	Confidence float64  `json:"confidence"`
}

type Verdict string

const (
	VerdictStrongBuy  Verdict = "Strong Buy"
	VerdictBuy        Verdict = "Buy"
	VerdictNeutral    Verdict = "Neutral"
	VerdictSell       Verdict = "Sell"
	VerdictStrongSell Verdict = "Strong Sell"
)

// VerdictForScore maps a score in [0,100] to its verdict band. Boundary
// scores resolve upward: 80 is Strong Buy, 60 is Buy, 20 is Sell; 40 is
// outside the Neutral band and falls to Sell.
func VerdictForScore(score int) Verdict {
	switch {
	case score >= 80:
		return VerdictStrongBuy
	case score >= 60:
		return VerdictBuy
	case score > 40:
		return VerdictNeutral
	case score >= 20:
		return VerdictSell
	default:
		return VerdictStrongSell
	}
}

// RiskPlan is the position-sizing block of an analysis document.
type RiskPlan struct {
	Shares        int64   `json:"shares"`
	PositionValue float64 `json:"position_value"`
	CapitalAtRisk float64 `json:"capital_at_risk"`
	RiskPercent   float64 `json:"risk_percent"`
	RiskReward    float64 `json:"risk_reward"`
}

// AnalysisDoc is the per-ticker result document serialized into
// AnalysisResult.RawData.
type AnalysisDoc struct {
	Ticker   string    `json:"ticker"`
	Symbol   string    `json:"symbol"`
	Score    int       `json:"score"`
	Verdict  Verdict   `json:"verdict"`
	Signals  []Signal  `json:"signals"`
	Entry    float64   `json:"entry"`
	StopLoss float64   `json:"stop_loss"`
	Target   float64   `json:"target"`
	ATR      float64   `json:"atr"`
	Risk     RiskPlan  `json:"risk"`
	Period   string    `json:"period"`
	Candles  int       `json:"candles"`
	Demo     bool      `json:"demo"`
	AsOf     time.Time `json:"as_of"`
}

// AnalysisSettings is the effective per-job configuration after request
// validation and defaulting.
type AnalysisSettings struct {
	Capital           float64
	StrategyID        int
	RiskPercent       float64 // percent of capital at risk per trade
	PositionSizeLimit float64 // percent of capital per position
	RiskReward        float64
	DataPeriod        string
	UseDemoData       bool
	EnabledIndicators map[string]bool
	CategoryWeights   map[string]float64
}

// DataPeriods enumerates accepted lookback ranges.
var DataPeriods = []string{"1mo", "3mo", "6mo", "1y", "2y", "5y"}

func ValidDataPeriod(p string) bool {
	for _, v := range DataPeriods {
		if v == p {
			return true
		}
	}
	return false
}

// ProgressPercent derives the integer percentage for a job row.
func ProgressPercent(completed, total int) int {
	if total < 1 {
		total = 1
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
