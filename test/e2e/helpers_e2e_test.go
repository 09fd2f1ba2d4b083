//go:build e2e

// Package e2e boots the whole service in-process (SQLite backend, deterministic
// demo market data) and drives it over HTTP the way a client would.
package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/marketdata"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/sqldb"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/store"
	"github.com/fairyhunter13/stock-analyzer/internal/app"
	"github.com/fairyhunter13/stock-analyzer/internal/config"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
	"github.com/fairyhunter13/stock-analyzer/internal/strategy"
	"github.com/fairyhunter13/stock-analyzer/internal/usecase"
	"github.com/fairyhunter13/stock-analyzer/internal/worker"
)

const apiKey = "e2e-secret"

type testServer struct {
	ts *httptest.Server
}

func startApp(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	cfg := config.Config{
		AppEnv:         "test",
		APIKey:         apiKey,
		SQLitePath:     filepath.Join(t.TempDir(), "e2e.db"),
		WorkerPoolSize: 4,
		TickerTimeout:  5 * time.Second,
		BulkMaxTickers: 100,
		JobErrorsCap:   100,
		DataMode:       "demo",
		DataPeriod:     "6mo",
		RequestTimeout: 10 * time.Second,
	}

	db, err := sqldb.Open(ctx, sqldb.Config{SQLitePath: cfg.SQLitePath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog := usecase.NewCatalogService(store.NewStocks(db))
	_, err = catalog.Seed(ctx, []domain.Stock{
		{Symbol: "RELIANCE", Name: "Reliance Industries", Sector: "Energy", Exchange: "NSE"},
		{Symbol: "TCS", Name: "Tata Consultancy Services", Sector: "Information Technology", Exchange: "NSE"},
		{Symbol: "INFY", Name: "Infosys", Sector: "Information Technology", Exchange: "NSE"},
		{Symbol: "HDFCBANK", Name: "HDFC Bank", Sector: "Financial Services", Exchange: "NSE"},
	})
	require.NoError(t, err)

	book, err := strategy.Load("")
	require.NoError(t, err)

	results := store.NewResults(db)
	demo := marketdata.NewDemo()
	pool := worker.New(cfg.WorkerPoolSize, cfg.TickerTimeout)
	jobSvc := usecase.NewJobService(
		store.NewJobs(db, cfg.JobErrorsCap), results, store.NewStocks(db),
		usecase.NewAnalyzer(demo, demo, true), pool, book, cfg.BulkMaxTickers)
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jobSvc.Shutdown(sctx)
	})

	srv := httpserver.NewServer(cfg, jobSvc,
		usecase.NewResultService(results),
		usecase.NewWatchlistService(store.NewWatchlist(db)),
		catalog, db.Ping)
	ts := httptest.NewServer(app.BuildRouter(cfg, srv, nil))
	t.Cleanup(ts.Close)

	return &testServer{ts: ts}
}

// call sends one authenticated request and returns the status plus raw body.
func (s *testServer) call(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decodeMap(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m), string(raw))
	return m
}

// errorCode digs the code out of the uniform error envelope.
func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	env := decodeMap(t, raw)
	errObj, ok := env["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %s", string(raw))
	code, _ := errObj["code"].(string)
	return code
}

// awaitJob polls the status endpoint until the job settles.
func (s *testServer) awaitJob(t *testing.T, id string) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		code, raw := s.call(t, http.MethodGet, "/api/analysis/status/"+id, nil)
		if code != http.StatusOK {
			return false
		}
		last = decodeMap(t, raw)
		switch last["status"] {
		case "completed", "failed", "cancelled":
			return true
		}
		return false
	}, 30*time.Second, 50*time.Millisecond, "job %s never reached a terminal status", id)
	return last
}
