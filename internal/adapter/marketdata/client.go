package marketdata

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Client fetches daily OHLCV series from a Yahoo-chart-compatible endpoint.
// 429 and 5xx responses are retried with exponential backoff; other 4xx
// fail immediately.
type Client struct {
	base       string
	hc         *http.Client
	maxRetries uint64
}

func NewClient(baseURL string, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		base: baseURL,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries: uint64(maxRetries),
	}
}

// chartResponse is the subset of the chart payload the analyzer needs.
// Yahoo emits null for halted bars, hence the pointer slices.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) Fetch(ctx domain.Context, ticker, period string) ([]domain.Candle, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d",
		c.base, url.PathEscape(ticker), url.QueryEscape(period))

	var out chartResponse
	op := func() error {
		// rebuild the request each attempt so a consumed body is never reused
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "stock-analyzer/1.0")
		req.Header.Set("Accept", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("market data rate limited", slog.String("ticker", ticker))
			return fmt.Errorf("chart status %d", resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("ticker %s: %w", ticker, domain.ErrNoData))
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("chart status %d", resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return fmt.Errorf("chart status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("chart decode: %w", err))
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxElapsedTime = 0 // bounded by max retries and the client timeout
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, c.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		observability.MarketDataFetch("live", "error")
		return nil, fmt.Errorf("op=marketdata.fetch: %s: %w", ticker, err)
	}

	cs, err := out.candles()
	if err != nil {
		observability.MarketDataFetch("live", "error")
		return nil, fmt.Errorf("op=marketdata.fetch: %s: %w", ticker, err)
	}
	observability.MarketDataFetch("live", "ok")
	return cs, nil
}

func (r chartResponse) candles() ([]domain.Candle, error) {
	if e := r.Chart.Error; e != nil {
		return nil, fmt.Errorf("chart error %s: %s: %w", e.Code, e.Description, domain.ErrNoData)
	}
	if len(r.Chart.Result) == 0 || len(r.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, domain.ErrNoData
	}
	res := r.Chart.Result[0]
	q := res.Indicators.Quote[0]
	out := make([]domain.Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(q.Open) || i >= len(q.High) || i >= len(q.Low) || i >= len(q.Close) {
			break
		}
		// halted bars arrive as nulls; skip them rather than zero-filling
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		var vol int64
		if i < len(q.Volume) && q.Volume[i] != nil {
			vol = *q.Volume[i]
		}
		out = append(out, domain.Candle{
			Ts:     time.Unix(ts, 0).UTC(),
			Open:   *q.Open[i],
			High:   *q.High[i],
			Low:    *q.Low[i],
			Close:  *q.Close[i],
			Volume: vol,
		})
	}
	if len(out) == 0 {
		return nil, domain.ErrNoData
	}
	return out, nil
}
