package usecase

// In-memory store fakes implementing the domain ports with the same
// sentinel-error contract as the SQL stores.

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

type memJobs struct {
	mu   sync.Mutex
	rows map[string]*domain.Job
}

func newMemJobs() *memJobs {
	return &memJobs{rows: make(map[string]*domain.Job)}
}

func (m *memJobs) Create(_ domain.Context, j domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[j.ID]; exists {
		return domain.ErrJobDuplicate
	}
	if j.Status == "" {
		j.Status = domain.JobQueued
	}
	if j.Errors == "" {
		j.Errors = "[]"
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	m.rows[j.ID] = &j
	return nil
}

func (m *memJobs) Start(_ domain.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	switch j.Status {
	case domain.JobQueued:
		now := time.Now().UTC()
		j.Status = domain.JobProcessing
		j.Message = "processing"
		j.StartedAt = &now
		j.UpdatedAt = now
		return nil
	case domain.JobProcessing:
		return nil
	default:
		return domain.ErrConflict
	}
}

func (m *memJobs) RecordProgress(_ domain.Context, id, ticker string, index int, ok bool, errMsg string) error {
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

func (m *memJobs) Finalize(_ domain.Context, id string, cancelled bool, message string) error {
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

func (m *memJobs) RequestCancel(_ domain.Context, id string) error {
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

func (m *memJobs) CancelRequested(_ domain.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	return j.CancelRequested, nil
}

func (m *memJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return *j, nil
}

func (m *memJobs) MarkFailed(_ domain.Context, id, message string) error {
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

func (m *memJobs) ListStale(_ domain.Context, olderThan time.Time) ([]domain.Job, error) {
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

type memResults struct {
	mu     sync.Mutex
	rows   []domain.AnalysisResult
	nextID int64
}

func newMemResults() *memResults {
	return &memResults{}
}

func (m *memResults) Insert(_ domain.Context, r domain.AnalysisResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.Ticker == r.Ticker &&
			existing.JobID != nil && r.JobID != nil && *existing.JobID == *r.JobID {
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

func (m *memResults) History(_ domain.Context, ticker string, limit int) ([]domain.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	matched := m.match(ticker)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memResults) HistoryPaged(_ domain.Context, ticker string, p domain.PageRequest) ([]domain.AnalysisResult, int, error) {
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

// match returns the ticker's rows newest first. Callers hold the lock.
func (m *memResults) match(ticker string) []domain.AnalysisResult {
	var out []domain.AnalysisResult
	for _, r := range m.rows {
		if r.Ticker == ticker {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *memResults) all() []domain.AnalysisResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AnalysisResult(nil), m.rows...)
}

type memStocks struct {
	mu   sync.Mutex
	rows []domain.Stock
}

func newMemStocks(rows ...domain.Stock) *memStocks {
	return &memStocks{rows: rows}
}

func (m *memStocks) ListPaged(_ domain.Context, p domain.PageRequest, search string) ([]domain.Stock, int, error) {
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

func (m *memStocks) Universe(_ domain.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s.Ticker())
	}
	return out, nil
}

func (m *memStocks) UpsertBatch(_ domain.Context, stocks []domain.Stock) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, in := range stocks {
		if in.Symbol == "" {
			continue
		}
		replaced := false
		for i, have := range m.rows {
			if have.Symbol == in.Symbol {
				in.ID = have.ID
				m.rows[i] = in
				replaced = true
				break
			}
		}
		if !replaced {
			in.ID = int64(len(m.rows) + 1)
			m.rows = append(m.rows, in)
		}
		n++
	}
	return n, nil
}

func (m *memStocks) Count(_ domain.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

type memWatchlist struct {
	mu     sync.Mutex
	rows   []domain.WatchlistItem
	nextID int64
}

func newMemWatchlist() *memWatchlist {
	return &memWatchlist{}
}

func (m *memWatchlist) Add(_ domain.Context, item domain.WatchlistItem) (domain.WatchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.rows {
		if have.Ticker == item.Ticker {
			return domain.WatchlistItem{}, domain.ErrWatchlistDuplicate
		}
	}
	m.nextID++
	item.ID = m.nextID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, item)
	return item, nil
}

func (m *memWatchlist) List(_ domain.Context) ([]domain.WatchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.WatchlistItem(nil), m.rows...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memWatchlist) Remove(_ domain.Context, ticker string) error {
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
