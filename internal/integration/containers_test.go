// Package integration runs the PostgreSQL backend and the Redis quote cache
// against real containers. Set INTEGRATION=1 to enable; the default test run
// stays hermetic on SQLite and miniredis.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/marketdata"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/sqldb"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/store"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("INTEGRATION not set; skipping container-backed tests")
	}
}

const pgPort = nat.Port("5432/tcp")

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "stock",
			"POSTGRES_PASSWORD": "stock",
			"POSTGRES_DB":       "stocks",
		},
		ExposedPorts: []string{string(pgPort)},
		// postgres restarts once during initdb, so wait for the second ready line
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
		HostConfigModifier: func(hc *containerTypes.HostConfig) {
			hc.AutoRemove = true
		},
	}
	pg, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, pgPort)
	require.NoError(t, err)
	return fmt.Sprintf("postgres://stock:stock@%s:%s/stocks?sslmode=disable", host, port.Port())
}

func TestPostgresBackendRoundTrip(t *testing.T) {
	skipUnlessIntegration(t)
	ctx := context.Background()

	db, err := sqldb.Open(ctx, sqldb.Config{DatabaseURL: startPostgres(t), MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.Equal(t, sqldb.DialectPostgres, db.Dialect())

	now := time.Now().UTC()

	jobs := store.NewJobs(db, 10)
	job := domain.Job{ID: "itg-job-1", Status: domain.JobQueued, Total: 2, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, jobs.Create(ctx, job))
	require.ErrorIs(t, jobs.Create(ctx, job), domain.ErrJobDuplicate)

	require.NoError(t, jobs.Start(ctx, job.ID))
	require.NoError(t, jobs.RecordProgress(ctx, job.ID, "INFY.NS", 1, true, ""))
	require.NoError(t, jobs.RecordProgress(ctx, job.ID, "NODATA.NS", 2, false, "no data for period"))
	require.NoError(t, jobs.Finalize(ctx, job.ID, false, "analyzed 1 of 2 tickers"))
	require.ErrorIs(t, jobs.Finalize(ctx, job.ID, false, "again"), domain.ErrConflict)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobCompleted, got.Status)
	require.Equal(t, 2, got.Completed)
	require.Equal(t, 1, got.Successful)
	require.Equal(t, 100, got.Progress)
	require.False(t, got.CancelRequested)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	var jerrs []domain.JobError
	require.NoError(t, json.Unmarshal([]byte(got.Errors), &jerrs))
	require.Equal(t, []domain.JobError{{Ticker: "NODATA.NS", Message: "no data for period"}}, jerrs)

	results := store.NewResults(db)
	jobID := job.ID
	res := domain.AnalysisResult{
		Ticker:    "INFY.NS",
		Symbol:    "INFY",
		JobID:     &jobID,
		Source:    domain.ResultSourceBulk,
		RawData:   `{"ticker":"INFY.NS","score":61.5}`,
		CreatedAt: now,
	}
	id, err := results.Insert(ctx, res)
	require.NoError(t, err)
	require.Positive(t, id)
	_, err = results.Insert(ctx, res)
	require.ErrorIs(t, err, domain.ErrResultDuplicate)

	history, total, err := results.HistoryPaged(ctx, "INFY.NS", domain.PageRequest{Page: 1, PerPage: 20, Sort: "created_at", Order: "desc"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, history, 1)
	require.Equal(t, "INFY.NS", history[0].Ticker)
	require.JSONEq(t, res.RawData, history[0].RawData)

	stocks := store.NewStocks(db)
	n, err := stocks.UpsertBatch(ctx, []domain.Stock{
		{Symbol: "RELIANCE", Name: "Reliance Industries", Sector: "Energy", Exchange: "NSE"},
		{Symbol: "INFY", Name: "Infosys", Sector: "Information Technology", Exchange: "NSE"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	listed, total, err := stocks.ListPaged(ctx, domain.PageRequest{Page: 1, PerPage: 20, Sort: "symbol", Order: "asc"}, "reliance")
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, listed, 1)
	require.Equal(t, "RELIANCE", listed[0].Symbol)

	universe, err := stocks.Universe(ctx)
	require.NoError(t, err)
	require.Contains(t, universe, "RELIANCE.NS")

	watch := store.NewWatchlist(db)
	item, err := watch.Add(ctx, domain.WatchlistItem{Ticker: "INFY.NS", Symbol: "INFY", Notes: "quarterly watch"})
	require.NoError(t, err)
	require.Positive(t, item.ID)
	require.False(t, item.CreatedAt.IsZero())
	_, err = watch.Add(ctx, domain.WatchlistItem{Ticker: "INFY.NS", Symbol: "INFY"})
	require.ErrorIs(t, err, domain.ErrWatchlistDuplicate)

	items, err := watch.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, watch.Remove(ctx, "INFY.NS"))
	require.ErrorIs(t, watch.Remove(ctx, "INFY.NS"), domain.ErrWatchlistNotFound)
}

// countingFetcher counts how many calls reach the backing source.
type countingFetcher struct {
	inner domain.MarketData
	calls int
}

func (f *countingFetcher) Fetch(ctx domain.Context, ticker, period string) ([]domain.Candle, error) {
	f.calls++
	return f.inner.Fetch(ctx, ticker, period)
}

func TestRedisQuoteCacheRoundTrip(t *testing.T) {
	skipUnlessIntegration(t)
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		HostConfigModifier: func(hc *containerTypes.HostConfig) {
			hc.AutoRemove = true
		},
	}
	rd, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rd.Terminate(context.Background()) })

	host, err := rd.Host(ctx)
	require.NoError(t, err)
	port, err := rd.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.Eventually(t, func() bool { return rdb.Ping(ctx).Err() == nil }, 30*time.Second, time.Second)

	src := &countingFetcher{inner: marketdata.NewDemo()}
	cache := marketdata.NewCache(src, rdb, time.Minute)

	first, err := cache.Fetch(ctx, "INFY.NS", "1mo")
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.Equal(t, 1, src.calls)

	second, err := cache.Fetch(ctx, "INFY.NS", "1mo")
	require.NoError(t, err)
	require.Equal(t, 1, src.calls, "second fetch must come from the cache")
	require.Equal(t, len(first), len(second))
	require.Equal(t, first[0].Close, second[0].Close)
}
