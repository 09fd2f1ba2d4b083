package marketdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Cache is a Redis read-through decorator over another fetcher. Cache
// failures are logged and absorbed: a broken Redis never fails an analysis,
// it just makes fetches slower.
type Cache struct {
	inner domain.MarketData
	rdb   redis.UniversalClient
	ttl   time.Duration
}

func NewCache(inner domain.MarketData, rdb redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(ticker, period string) string {
	return fmt.Sprintf("ohlcv:%s:%s", ticker, period)
}

func (c *Cache) Fetch(ctx domain.Context, ticker, period string) ([]domain.Candle, error) {
	key := cacheKey(ticker, period)
	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cs []domain.Candle
		if jerr := json.Unmarshal(b, &cs); jerr == nil && len(cs) > 0 {
			observability.MarketDataFetch("cache", "hit")
			return cs, nil
		}
		// unreadable entry: drop it and fall through to the source
		if derr := c.rdb.Del(ctx, key).Err(); derr != nil {
			slog.Warn("quote cache purge failed", slog.String("key", key), slog.Any("error", derr))
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("quote cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	observability.MarketDataFetch("cache", "miss")

	cs, err := c.inner.Fetch(ctx, ticker, period)
	if err != nil {
		return nil, err
	}
	if encoded, jerr := json.Marshal(cs); jerr == nil {
		if serr := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); serr != nil {
			slog.Warn("quote cache write failed", slog.String("key", key), slog.Any("error", serr))
		}
	}
	return cs, nil
}
