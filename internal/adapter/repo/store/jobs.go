// Package store implements the persistence ports on top of the sqldb layer.
// All SQL is written once against '?' placeholders; sqldb rewrites the
// statement for the active backend and normalizes rows, so nothing in here
// branches on the driver beyond the tx locking clause.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/sqldb"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

const jobColumns = `job_id, status, total, completed, successful, progress, errors, current_ticker, current_index, message, cancel_requested, created_at, started_at, updated_at, completed_at`

var (
	_ domain.JobStore       = (*Jobs)(nil)
	_ domain.ResultStore    = (*Results)(nil)
	_ domain.WatchlistStore = (*Watchlist)(nil)
	_ domain.StockStore     = (*Stocks)(nil)
)

// Jobs persists analysis jobs. Lifecycle transitions are guarded in SQL
// (WHERE status = ...) so concurrent controllers, cancel requests and the
// stale sweeper can never resurrect a terminal job.
type Jobs struct {
	db sqldb.DB
	// errorsCap bounds the JSON error list on a job row; oldest entries are
	// evicted first so a huge bulk job cannot grow the row unbounded.
	errorsCap int
}

// NewJobs constructs a Jobs store. errorsCap <= 0 falls back to 1000.
func NewJobs(db sqldb.DB, errorsCap int) *Jobs {
	if errorsCap <= 0 {
		errorsCap = 1000
	}
	return &Jobs{db: db, errorsCap: errorsCap}
}

// Create inserts a queued job row.
func (s *Jobs) Create(ctx domain.Context, j domain.Job) error {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	now := time.Now().UTC()
	if j.Status == "" {
		j.Status = domain.JobQueued
	}
	if j.Errors == "" {
		j.Errors = "[]"
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	q := `INSERT INTO jobs (job_id, status, total, message, errors, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(ctx, q, j.ID, string(j.Status), j.Total, j.Message, j.Errors, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sqldb.ErrDuplicate) {
			return fmt.Errorf("op=job.create: id %s: %w", j.ID, domain.ErrJobDuplicate)
		}
		return fmt.Errorf("op=job.create: %w", err)
	}
	return nil
}

// Start transitions a queued job to processing and stamps started_at.
// Calling Start on a job that is already processing is a no-op.
func (s *Jobs) Start(ctx domain.Context, id string) error {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Start")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE jobs SET status = ?, message = ?, started_at = ?, updated_at = ? WHERE job_id = ? AND status = ?`
	n, err := s.db.Exec(ctx, q, string(domain.JobProcessing), "processing", now, now, id, string(domain.JobQueued))
	if err != nil {
		return fmt.Errorf("op=job.start: %w", err)
	}
	if n == 0 {
		j, err := s.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("op=job.start: %w", err)
		}
		if j.Status == domain.JobProcessing {
			return nil
		}
		return fmt.Errorf("op=job.start: %s job: %w", j.Status, domain.ErrConflict)
	}
	return nil
}

// RecordProgress applies one settled ticker to the job counters inside a
// single transaction: completed and successful bump together with progress,
// the error list and the current-position columns, so a status read can
// never observe a torn update.
func (s *Jobs) RecordProgress(ctx domain.Context, id, ticker string, index int, ok bool, errMsg string) error {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.RecordProgress")
	defer span.End()
	err := s.db.WithTx(ctx, func(tx sqldb.Querier) error {
		q := `SELECT status, total, completed, successful, errors FROM jobs WHERE job_id = ?`
		if s.db.Dialect() == sqldb.DialectPostgres {
			q += ` FOR UPDATE`
		}
		row, err := tx.QueryRow(ctx, q, id)
		if errors.Is(err, sqldb.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		status := domain.JobStatus(row.String("status"))
		if status != domain.JobProcessing {
			return fmt.Errorf("progress on %s job: %w", status, domain.ErrConflict)
		}
		total := row.Int("total")
		completed := row.Int("completed") + 1
		successful := row.Int("successful")
		if ok {
			successful++
		}
		errsJSON := row.String("errors")
		if !ok {
			errsJSON = appendJobError(errsJSON, ticker, errMsg, s.errorsCap)
		}
		_, err = tx.Exec(ctx,
			`UPDATE jobs SET completed = ?, successful = ?, progress = ?, errors = ?, current_ticker = ?, current_index = ?, updated_at = ? WHERE job_id = ?`,
			completed, successful, domain.ProgressPercent(completed, total), errsJSON, ticker, index, time.Now().UTC(), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("op=job.record_progress: %w", err)
	}
	return nil
}

// Finalize moves a processing job to its terminal status: cancelled when the
// flag is set, completed otherwise. Terminal rows are left untouched.
func (s *Jobs) Finalize(ctx domain.Context, id string, cancelled bool, message string) error {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Finalize")
	defer span.End()
	status := domain.JobCompleted
	if cancelled {
		status = domain.JobCancelled
	}
	now := time.Now().UTC()
	q := `UPDATE jobs SET status = ?, message = ?, completed_at = ?, updated_at = ? WHERE job_id = ? AND status = ?`
	n, err := s.db.Exec(ctx, q, string(status), message, now, now, id, string(domain.JobProcessing))
	if err != nil {
		return fmt.Errorf("op=job.finalize: %w", err)
	}
	if n == 0 {
		j, err := s.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("op=job.finalize: %w", err)
		}
		return fmt.Errorf("op=job.finalize: %s job: %w", j.Status, domain.ErrConflict)
	}
	return nil
}

// RequestCancel flips the cooperative cancel flag. Legal only while the job
// is queued or processing; terminal jobs yield ErrCancelInvalid unchanged.
func (s *Jobs) RequestCancel(ctx domain.Context, id string) error {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.RequestCancel")
	defer span.End()
	q := `UPDATE jobs SET cancel_requested = ?, updated_at = ? WHERE job_id = ? AND status IN (?, ?)`
	n, err := s.db.Exec(ctx, q, true, time.Now().UTC(), id, string(domain.JobQueued), string(domain.JobProcessing))
	if err != nil {
		return fmt.Errorf("op=job.request_cancel: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return fmt.Errorf("op=job.request_cancel: %w", err)
		}
		return fmt.Errorf("op=job.request_cancel: %w", domain.ErrCancelInvalid)
	}
	return nil
}

// CancelRequested reads the cooperative cancel flag.
func (s *Jobs) CancelRequested(ctx domain.Context, id string) (bool, error) {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CancelRequested")
	defer span.End()
	row, err := s.db.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE job_id = ?`, id)
	if errors.Is(err, sqldb.ErrNoRows) {
		return false, fmt.Errorf("op=job.cancel_requested: %w", domain.ErrJobNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("op=job.cancel_requested: %w", err)
	}
	return row.Bool("cancel_requested"), nil
}

// Get loads a job by id.
func (s *Jobs) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	row, err := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	if errors.Is(err, sqldb.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("op=job.get: id %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return scanJob(row), nil
}

// MarkFailed force-fails a queued or processing job. Used for controller
// faults and by the stale sweeper; already-terminal rows are a no-op so a
// late sweep cannot clobber a legitimate finish.
func (s *Jobs) MarkFailed(ctx domain.Context, id, message string) error {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkFailed")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE jobs SET status = ?, message = ?, completed_at = ?, updated_at = ? WHERE job_id = ? AND status IN (?, ?)`
	_, err := s.db.Exec(ctx, q, string(domain.JobFailed), message, now, now, id, string(domain.JobQueued), string(domain.JobProcessing))
	if err != nil {
		return fmt.Errorf("op=job.mark_failed: %w", err)
	}
	return nil
}

// ListStale returns processing jobs whose last update predates olderThan.
func (s *Jobs) ListStale(ctx domain.Context, olderThan time.Time) ([]domain.Job, error) {
	tracer := otel.Tracer("store.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStale")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? AND updated_at < ?`
	rows, err := s.db.Query(ctx, q, string(domain.JobProcessing), olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stale: %w", err)
	}
	out := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, scanJob(r))
	}
	return out, nil
}

func scanJob(r sqldb.Row) domain.Job {
	return domain.Job{
		ID:              r.String("job_id"),
		Status:          domain.JobStatus(r.String("status")),
		Total:           r.Int("total"),
		Completed:       r.Int("completed"),
		Successful:      r.Int("successful"),
		Progress:        r.Int("progress"),
		Errors:          r.String("errors"),
		CurrentTicker:   r.NullString("current_ticker"),
		CurrentIndex:    r.NullInt("current_index"),
		Message:         r.String("message"),
		CancelRequested: r.Bool("cancel_requested"),
		CreatedAt:       r.Time("created_at"),
		StartedAt:       r.NullTime("started_at"),
		UpdatedAt:       r.Time("updated_at"),
		CompletedAt:     r.NullTime("completed_at"),
	}
}

// appendJobError decodes the stored list, appends one failure and evicts the
// oldest entries past limit. A malformed stored payload starts a fresh list
// rather than poisoning every later append.
func appendJobError(encoded, ticker, message string, limit int) string {
	var list []domain.JobError
	if encoded != "" {
		_ = json.Unmarshal([]byte(encoded), &list)
	}
	list = append(list, domain.JobError{Ticker: ticker, Message: message})
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	b, err := json.Marshal(list)
	if err != nil {
		return encoded
	}
	return string(b)
}
