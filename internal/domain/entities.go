package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrNoData          = errors.New("no data")
	ErrInternal        = errors.New("internal error")
)

// Specific sentinels wrap the generic ones so errors.Is matches both the
// narrow and the broad class.
var (
	ErrJobNotFound        = fmt.Errorf("job %w", ErrNotFound)
	ErrWatchlistNotFound  = fmt.Errorf("watchlist item %w", ErrNotFound)
	ErrJobDuplicate       = fmt.Errorf("%w: duplicate job id", ErrConflict)
	ErrWatchlistDuplicate = fmt.Errorf("%w: ticker already in watchlist", ErrConflict)
	ErrResultDuplicate    = fmt.Errorf("%w: result already recorded for job", ErrConflict)
	ErrCancelInvalid      = fmt.Errorf("%w: job is not cancellable", ErrConflict)
	ErrJobStartFailed     = fmt.Errorf("%w: job could not be started", ErrInternal)
	ErrAggregation        = fmt.Errorf("%w: signal aggregation fault", ErrInternal)
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are legal from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobError is one per-ticker failure recorded on a job. The job row stores
// the ordered list JSON-encoded in Job.Errors.
type JobError struct {
	Ticker  string `json:"ticker"`
	Message string `json:"message"`
}

// Job is one bulk analysis invocation.
// Invariants: 0 <= Successful <= Completed <= Total; Progress derived from
// Completed/Total; CancelRequested is monotonic; terminal rows never mutate.
type Job struct {
	ID              string
	Status          JobStatus
	Total           int
	Completed       int
	Successful      int
	Progress        int
	Errors          string // JSON-encoded []JobError, oldest evicted past the cap
	CurrentTicker   *string
	CurrentIndex    *int // 1-based index of the most recently started unit
	Message         string
	CancelRequested bool
	CreatedAt       time.Time
	StartedAt       *time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Result sources
const (
	ResultSourceWatchlist = "watchlist"
	ResultSourceBulk      = "bulk"
)

// AnalysisResult is one per-ticker outcome under the unified results table.
// At most one row per (ticker, job_id).
type AnalysisResult struct {
	ID        int64
	Ticker    string
	Symbol    string
	JobID     *string
	Source    string
	RawData   string // JSON-encoded AnalysisDoc
	CreatedAt time.Time
}

type WatchlistItem struct {
	ID        int64
	Ticker    string
	Symbol    string
	Notes     string // sanitized, <= 500 chars
	CreatedAt time.Time
}

// Stock is one catalogue row backing /api/stocks/all and the bulk universe.
type Stock struct {
	ID       int64
	Symbol   string
	Name     string
	Sector   string
	Exchange string
}

// Ticker returns the exchange-qualified identifier used for data fetching.
func (s Stock) Ticker() string {
	switch strings.ToUpper(s.Exchange) {
	case "NSE":
		return s.Symbol + ".NS"
	case "BSE":
		return s.Symbol + ".BO"
	default:
		return s.Symbol
	}
}

// PageRequest carries normalized pagination inputs (validated at the edge).
type PageRequest struct {
	Page    int
	PerPage int
	Sort    string
	Order   string // asc | desc
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Repositories (ports)

type JobStore interface {
	Create(ctx Context, j Job) error
	Start(ctx Context, id string) error
	// RecordProgress atomically increments Completed (and Successful when ok),
	// appends a JobError when not ok, and recomputes Progress.
	RecordProgress(ctx Context, id, ticker string, index int, ok bool, errMsg string) error
	Finalize(ctx Context, id string, cancelled bool, message string) error
	RequestCancel(ctx Context, id string) error
	CancelRequested(ctx Context, id string) (bool, error)
	Get(ctx Context, id string) (Job, error)
	MarkFailed(ctx Context, id, message string) error
	ListStale(ctx Context, olderThan time.Time) ([]Job, error)
}

type ResultStore interface {
	Insert(ctx Context, r AnalysisResult) (int64, error)
	History(ctx Context, ticker string, limit int) ([]AnalysisResult, error)
	HistoryPaged(ctx Context, ticker string, p PageRequest) ([]AnalysisResult, int, error)
}

type WatchlistStore interface {
	Add(ctx Context, item WatchlistItem) (WatchlistItem, error)
	List(ctx Context) ([]WatchlistItem, error)
	Remove(ctx Context, ticker string) error
}

type StockStore interface {
	ListPaged(ctx Context, p PageRequest, search string) ([]Stock, int, error)
	// Universe returns every catalogue entry as an exchange-qualified ticker.
	Universe(ctx Context) ([]string, error)
	UpsertBatch(ctx Context, stocks []Stock) (int, error)
	Count(ctx Context) (int, error)
}

// MarketData (port)

type MarketData interface {
	// Fetch returns the OHLCV series for ticker over period, oldest first.
	Fetch(ctx Context, ticker, period string) ([]Candle, error)
}

// Context is an alias to context.Context; adapters and usecases pass the
// stdlib context through, the alias just keeps domain signatures compact.
type Context = context.Context
