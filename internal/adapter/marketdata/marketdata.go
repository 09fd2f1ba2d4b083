// Package marketdata provides the OHLCV fetchers behind analysis jobs: a
// deterministic demo generator, a Yahoo-chart-style HTTP client, and a
// Redis read-through cache that decorates either.
package marketdata

import (
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Port assertions.
var (
	_ domain.MarketData = (*Demo)(nil)
	_ domain.MarketData = (*Client)(nil)
	_ domain.MarketData = (*Cache)(nil)
)

// barsPerPeriod maps a lookback period to the number of daily bars a full
// series carries (trading days, not calendar days).
var barsPerPeriod = map[string]int{
	"1mo": 22,
	"3mo": 66,
	"6mo": 126,
	"1y":  252,
	"2y":  504,
	"5y":  1260,
}
