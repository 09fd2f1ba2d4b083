package httpserver_test

// In-memory stubs implementing the domain ports with the same sentinel
// contract as the SQL stores, plus the request-level test harness.

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/stock-analyzer/internal/config"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
	"github.com/fairyhunter13/stock-analyzer/internal/strategy"
	"github.com/fairyhunter13/stock-analyzer/internal/usecase"
	"github.com/fairyhunter13/stock-analyzer/internal/worker"
)

type stubJobs struct {
	mu   sync.Mutex
	rows map[string]*domain.Job
}

func newStubJobs() *stubJobs { return &stubJobs{rows: make(map[string]*domain.Job)} }

func (m *stubJobs) Create(_ domain.Context, j domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[j.ID]; exists {
		return domain.ErrJobDuplicate
	}
	if j.Errors == "" {
		j.Errors = "[]"
	}
	m.rows[j.ID] = &j
	return nil
}

func (m *stubJobs) Start(_ domain.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.JobQueued && j.Status != domain.JobProcessing {
		return domain.ErrConflict
	}
	now := time.Now().UTC()
	j.Status = domain.JobProcessing
	j.Message = "processing"
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *stubJobs) RecordProgress(_ domain.Context, id, ticker string, index int, ok bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, found := m.rows[id]
	if !found {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.JobProcessing {
		return domain.ErrConflict
	}
	j.Completed++
	if ok {
		j.Successful++
	} else {
		var list []domain.JobError
		_ = json.Unmarshal([]byte(j.Errors), &list)
		list = append(list, domain.JobError{Ticker: ticker, Message: errMsg})
		b, _ := json.Marshal(list)
		j.Errors = string(b)
	}
	j.Progress = domain.ProgressPercent(j.Completed, j.Total)
	t, i := ticker, index
	j.CurrentTicker, j.CurrentIndex = &t, &i
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *stubJobs) Finalize(_ domain.Context, id string, cancelled bool, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.JobProcessing {
		return domain.ErrConflict
	}
	now := time.Now().UTC()
	if cancelled {
		j.Status = domain.JobCancelled
	} else {
		j.Status = domain.JobCompleted
	}
	j.Message = message
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *stubJobs) RequestCancel(_ domain.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.JobQueued && j.Status != domain.JobProcessing {
		return domain.ErrCancelInvalid
	}
	j.CancelRequested = true
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *stubJobs) CancelRequested(_ domain.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	return j.CancelRequested, nil
}

func (m *stubJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return *j, nil
}

func (m *stubJobs) MarkFailed(_ domain.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok || (j.Status != domain.JobQueued && j.Status != domain.JobProcessing) {
		return nil
	}
	now := time.Now().UTC()
	j.Status = domain.JobFailed
	j.Message = message
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *stubJobs) ListStale(_ domain.Context, olderThan time.Time) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.rows {
		if j.Status == domain.JobProcessing && j.UpdatedAt.Before(olderThan) {
			out = append(out, *j)
		}
	}
	return out, nil
}

type stubResults struct {
	mu     sync.Mutex
	rows   []domain.AnalysisResult
	nextID int64
}

func (m *stubResults) Insert(_ domain.Context, r domain.AnalysisResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.rows {
		if have.Ticker == r.Ticker && have.JobID != nil && r.JobID != nil && *have.JobID == *r.JobID {
			return 0, domain.ErrResultDuplicate
		}
	}
	m.nextID++
	r.ID = m.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, r)
	return r.ID, nil
}

func (m *stubResults) History(_ domain.Context, ticker string, limit int) ([]domain.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := m.match(ticker)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *stubResults) HistoryPaged(_ domain.Context, ticker string, p domain.PageRequest) ([]domain.AnalysisResult, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := m.match(ticker)
	total := len(matched)
	off := p.Offset()
	if off >= total {
		return nil, total, nil
	}
	end := off + p.PerPage
	if end > total {
		end = total
	}
	return matched[off:end], total, nil
}

func (m *stubResults) match(ticker string) []domain.AnalysisResult {
	var out []domain.AnalysisResult
	for _, r := range m.rows {
		if r.Ticker == ticker {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *stubResults) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type stubStocks struct {
	mu   sync.Mutex
	rows []domain.Stock
}

func (m *stubStocks) ListPaged(_ domain.Context, p domain.PageRequest, search string) ([]domain.Stock, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.Stock
	needle := strings.ToUpper(search)
	for _, s := range m.rows {
		if needle == "" || strings.Contains(strings.ToUpper(s.Symbol), needle) || strings.Contains(strings.ToUpper(s.Name), needle) {
			matched = append(matched, s)
		}
	}
	total := len(matched)
	off := p.Offset()
	if off >= total {
		return nil, total, nil
	}
	end := off + p.PerPage
	if end > total {
		end = total
	}
	return matched[off:end], total, nil
}

func (m *stubStocks) Universe(_ domain.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s.Ticker())
	}
	return out, nil
}

func (m *stubStocks) UpsertBatch(_ domain.Context, stocks []domain.Stock) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, stocks...)
	return len(stocks), nil
}

func (m *stubStocks) Count(_ domain.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

type stubWatchlist struct {
	mu     sync.Mutex
	rows   []domain.WatchlistItem
	nextID int64
}

func (m *stubWatchlist) Add(_ domain.Context, item domain.WatchlistItem) (domain.WatchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.rows {
		if have.Ticker == item.Ticker {
			return domain.WatchlistItem{}, domain.ErrWatchlistDuplicate
		}
	}
	m.nextID++
	item.ID = m.nextID
	item.CreatedAt = time.Now().UTC()
	m.rows = append(m.rows, item)
	return item, nil
}

func (m *stubWatchlist) List(_ domain.Context) ([]domain.WatchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.WatchlistItem(nil), m.rows...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *stubWatchlist) Remove(_ domain.Context, ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, have := range m.rows {
		if have.Ticker == ticker {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return domain.ErrWatchlistNotFound
}

// stubMarket serves a synthetic rising series for every ticker; an optional
// delay keeps jobs in flight long enough to exercise cancellation.
type stubMarket struct {
	delay time.Duration
}

func (f *stubMarket) Fetch(ctx domain.Context, _, _ string) ([]domain.Candle, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]domain.Candle, 60)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		price := 100 + 0.5*float64(i)
		out[i] = domain.Candle{
			Ts:     ts.AddDate(0, 0, i),
			Open:   price,
			High:   price * 1.01,
			Low:    price * 0.99,
			Close:  price,
			Volume: 1000,
		}
	}
	return out, nil
}

// env bundles the server, its routes and the store handles a test pokes at.
type env struct {
	router  http.Handler
	jobs    *stubJobs
	results *stubResults
	stocks  *stubStocks
	watch   *stubWatchlist
	svc     *usecase.JobService
}

type envOpt func(*envParams)

type envParams struct {
	market  domain.MarketData
	stocks  []domain.Stock
	bulkMax int
	dbErr   error
}

func withMarket(m domain.MarketData) envOpt { return func(p *envParams) { p.market = m } }
func withStocks(s []domain.Stock) envOpt    { return func(p *envParams) { p.stocks = s } }
func withBulkMax(n int) envOpt              { return func(p *envParams) { p.bulkMax = n } }
func withDBError(err error) envOpt          { return func(p *envParams) { p.dbErr = err } }

func newEnv(t *testing.T, opts ...envOpt) *env {
	t.Helper()
	p := envParams{
		market: &stubMarket{},
		stocks: []domain.Stock{
			{ID: 1, Symbol: "RELIANCE", Name: "Reliance Industries", Sector: "Energy", Exchange: "NSE"},
			{ID: 2, Symbol: "TCS", Name: "Tata Consultancy", Sector: "IT", Exchange: "NSE"},
			{ID: 3, Symbol: "INFY", Name: "Infosys", Sector: "IT", Exchange: "NSE"},
		},
	}
	for _, o := range opts {
		o(&p)
	}

	jobs := newStubJobs()
	results := &stubResults{}
	stocks := &stubStocks{rows: p.stocks}
	watch := &stubWatchlist{}

	book, err := strategy.Load("")
	require.NoError(t, err)
	pool := worker.New(3, 2*time.Second)
	svc := usecase.NewJobService(jobs, results, stocks, usecase.NewAnalyzer(p.market, nil, true), pool, book, p.bulkMax)
	svc.CancelPoll = 10 * time.Millisecond
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	cfg := config.Config{AppEnv: "dev", DataPeriod: "1y"}
	dbCheck := func(context.Context) error { return p.dbErr }
	srv := httpserver.NewServer(cfg, svc,
		usecase.NewResultService(results),
		usecase.NewWatchlistService(watch),
		usecase.NewCatalogService(stocks),
		dbCheck)

	return &env{
		router:  mountRoutes(srv),
		jobs:    jobs,
		results: results,
		stocks:  stocks,
		watch:   watch,
		svc:     svc,
	}
}

// mountRoutes mirrors the application route table for handler tests.
func mountRoutes(srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", srv.HealthHandler())
	r.Route("/api", func(api chi.Router) {
		api.Route("/analysis", func(ar chi.Router) {
			ar.Post("/analyze", srv.AnalyzeHandler())
			ar.Get("/status/{job_id}", srv.StatusHandler())
			ar.Post("/cancel/{job_id}", srv.CancelHandler())
			ar.Get("/history/{ticker}", srv.HistoryHandler())
		})
		api.Route("/stocks", func(sr chi.Router) {
			sr.Post("/analyze-all-stocks", srv.BulkAnalyzeHandler())
			sr.Get("/all", srv.StocksHandler())
		})
		api.Route("/watchlist", func(wr chi.Router) {
			wr.Get("/", srv.WatchlistListHandler())
			wr.Post("/", srv.WatchlistAddHandler())
			wr.Delete("/{ticker}", srv.WatchlistRemoveHandler())
		})
	})
	return r
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func errorPart(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decodeBody(t, rec)
	part, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %s", rec.Body.String())
	return part
}

func waitTerminal(t *testing.T, e *env, id string) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/analysis/status/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		last = decodeBody(t, rec)
		switch last["status"] {
		case "completed", "failed", "cancelled":
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return last
}
