package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
	"github.com/fairyhunter13/stock-analyzer/internal/strategy"
	"github.com/fairyhunter13/stock-analyzer/internal/worker"
	"github.com/fairyhunter13/stock-analyzer/pkg/textx"
)

// DefaultBulkMax caps the analyze-all fan-out when configuration does not.
const DefaultBulkMax = 500

// errorMessageCap bounds one per-ticker error message stored on the job row.
const errorMessageCap = 300

// JobService owns the asynchronous analysis lifecycle: submission, the
// background runner, cancellation and status reads. One instance runs all
// jobs of the process; Shutdown drains them.
type JobService struct {
	Jobs     domain.JobStore
	Results  domain.ResultStore
	Stocks   domain.StockStore
	Analyzer Analyzer
	Pool     *worker.Pool
	Book     *strategy.Book

	BulkMax int
	// CancelPoll is how often the runner re-reads the cancel flag; the flag
	// may be set by another replica, so the in-process signal is not enough.
	CancelPoll time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewJobService(jobs domain.JobStore, results domain.ResultStore, stocks domain.StockStore, analyzer Analyzer, pool *worker.Pool, book *strategy.Book, bulkMax int) *JobService {
	if bulkMax <= 0 {
		bulkMax = DefaultBulkMax
	}
	return &JobService{
		Jobs:       jobs,
		Results:    results,
		Stocks:     stocks,
		Analyzer:   analyzer,
		Pool:       pool,
		Book:       book,
		BulkMax:    bulkMax,
		CancelPoll: 500 * time.Millisecond,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Submit creates a job for explicit tickers and starts it in the background.
// The returned job is still queued; progress is observable via Status.
func (s *JobService) Submit(ctx domain.Context, tickers []string, set domain.AnalysisSettings) (domain.Job, error) {
	return s.submit(ctx, tickers, set, domain.ResultSourceWatchlist)
}

// SubmitBulk runs the analyze-all flow: an empty symbol list resolves to the
// whole stock catalogue, bounded by BulkMax.
func (s *JobService) SubmitBulk(ctx domain.Context, symbols []string, set domain.AnalysisSettings) (domain.Job, error) {
	tickers := symbols
	if len(normalizeTickers(symbols)) == 0 {
		universe, err := s.Stocks.Universe(ctx)
		if err != nil {
			return domain.Job{}, fmt.Errorf("op=job.submit_bulk: %w", err)
		}
		if len(universe) == 0 {
			return domain.Job{}, fmt.Errorf("op=job.submit_bulk: stock catalogue is empty: %w", domain.ErrNoData)
		}
		tickers = universe
	}
	if n := len(tickers); n > s.BulkMax {
		return domain.Job{}, fmt.Errorf("%w: %d tickers exceeds the bulk limit of %d", domain.ErrInvalidArgument, n, s.BulkMax)
	}
	return s.submit(ctx, tickers, set, domain.ResultSourceBulk)
}

func (s *JobService) submit(ctx domain.Context, tickers []string, set domain.AnalysisSettings, source string) (domain.Job, error) {
	norm := normalizeTickers(tickers)
	if len(norm) == 0 {
		return domain.Job{}, fmt.Errorf("%w: no tickers provided", domain.ErrInvalidArgument)
	}
	st, err := s.strategyFor(set)
	if err != nil {
		return domain.Job{}, err
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobQueued,
		Total:     len(norm),
		Message:   "queued",
		Errors:    "[]",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Jobs.Create(ctx, job); err != nil {
		if errors.Is(err, domain.ErrJobDuplicate) {
			return domain.Job{}, err
		}
		return domain.Job{}, fmt.Errorf("op=job.submit: %w: %v", domain.ErrJobStartFailed, err)
	}
	observability.CreateJob(source)

	// the job outlives the request: derive from the submission context for
	// trace continuity but drop its cancellation
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.track(job.ID, cancel)
	s.wg.Add(1)
	go s.run(runCtx, job.ID, norm, st, set, source)

	slog.Info("analysis job submitted",
		slog.String("job_id", job.ID),
		slog.Int("total", job.Total),
		slog.String("source", source))
	return job, nil
}

// run executes one job to a terminal state. It never returns an error: every
// failure lands on the job row.
func (s *JobService) run(ctx context.Context, id string, tickers []string, st strategy.Strategy, set domain.AnalysisSettings, source string) {
	defer s.wg.Done()
	defer s.release(id)

	storeCtx := context.WithoutCancel(ctx) // store writes must survive cancellation
	status := string(domain.JobFailed)
	observability.StartJob()
	defer func() { observability.FinishJob(status) }()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job runner panicked", slog.String("job_id", id), slog.Any("panic", r))
			if err := s.Jobs.MarkFailed(storeCtx, id, "internal failure"); err != nil {
				slog.Error("job could not be marked failed", slog.String("job_id", id), slog.Any("error", err))
			}
		}
	}()

	if err := s.Jobs.Start(storeCtx, id); err != nil {
		slog.Error("job start failed", slog.String("job_id", id), slog.Any("error", err))
		if err := s.Jobs.MarkFailed(storeCtx, id, "failed to start"); err != nil {
			slog.Error("job could not be marked failed", slog.String("job_id", id), slog.Any("error", err))
		}
		return
	}

	// a cancel that raced submission is honoured before any dispatch
	if req, err := s.Jobs.CancelRequested(storeCtx, id); err == nil && req {
		s.signal(id)
	}
	stopPolling := s.watchCancelFlag(ctx, storeCtx, id)
	defer stopPolling()

	counts := s.Pool.Run(ctx, tickers,
		func(uctx context.Context, ticker string) (any, error) {
			return s.Analyzer.AnalyzeTicker(uctx, ticker, st, set)
		},
		func(out worker.Outcome) {
			s.recordOutcome(storeCtx, id, source, out)
		},
	)

	cancelled := ctx.Err() != nil
	if !cancelled {
		if req, err := s.Jobs.CancelRequested(storeCtx, id); err == nil && req {
			cancelled = true
		}
	}
	done := counts.Succeeded + counts.Failed
	message := fmt.Sprintf("analyzed %d of %d tickers", done, len(tickers))
	if cancelled {
		message = fmt.Sprintf("cancelled after %d of %d tickers", done, len(tickers))
	}
	if err := s.Jobs.Finalize(storeCtx, id, cancelled, message); err != nil {
		slog.Error("job finalize failed", slog.String("job_id", id), slog.Any("error", err))
		return
	}
	if cancelled {
		status = string(domain.JobCancelled)
	} else {
		status = string(domain.JobCompleted)
	}
	slog.Info("analysis job finished",
		slog.String("job_id", id),
		slog.String("status", status),
		slog.Int("succeeded", counts.Succeeded),
		slog.Int("failed", counts.Failed),
		slog.Int("skipped", counts.Skipped))
}

// recordOutcome is the pool's progress callback: serialized, one call per
// settled ticker.
func (s *JobService) recordOutcome(ctx context.Context, id, source string, out worker.Outcome) {
	ok := out.Err == nil
	msg := ""
	if !ok {
		msg = textx.Clip(out.Err.Error(), errorMessageCap)
	}
	if err := s.Jobs.RecordProgress(ctx, id, out.Unit, out.Index, ok, msg); err != nil {
		slog.Warn("progress update failed",
			slog.String("job_id", id), slog.String("ticker", out.Unit), slog.Any("error", err))
	}

	switch {
	case ok:
		observability.ObserveTickerAnalysis("ok", out.Elapsed)
	case errors.Is(out.Err, worker.ErrTimeout):
		observability.ObserveTickerAnalysis("timeout", out.Elapsed)
	default:
		observability.ObserveTickerAnalysis("error", out.Elapsed)
	}
	if !ok {
		return
	}

	doc, valid := out.Value.(domain.AnalysisDoc)
	if !valid {
		slog.Error("unexpected analyzer payload", slog.String("job_id", id), slog.String("ticker", out.Unit))
		return
	}
	observability.ObserveScore(doc.Score)
	raw, err := json.Marshal(doc)
	if err != nil {
		slog.Error("result encode failed", slog.String("job_id", id), slog.String("ticker", out.Unit), slog.Any("error", err))
		return
	}
	jobID := id
	_, err = s.Results.Insert(ctx, domain.AnalysisResult{
		Ticker:  out.Unit,
		Symbol:  doc.Symbol,
		JobID:   &jobID,
		Source:  source,
		RawData: string(raw),
	})
	switch {
	case errors.Is(err, domain.ErrResultDuplicate):
		slog.Warn("duplicate result skipped", slog.String("job_id", id), slog.String("ticker", out.Unit))
	case err != nil:
		slog.Error("result insert failed", slog.String("job_id", id), slog.String("ticker", out.Unit), slog.Any("error", err))
	}
}

// watchCancelFlag polls the persisted cancel flag so a cancel accepted by
// another replica still stops this runner. Returns a stop func.
func (s *JobService) watchCancelFlag(ctx, storeCtx context.Context, id string) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(s.CancelPoll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				if req, err := s.Jobs.CancelRequested(storeCtx, id); err == nil && req {
					s.signal(id)
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Cancel requests cooperative cancellation: the flag is persisted first so
// any replica honours it, then the local runner (if any) is signalled.
func (s *JobService) Cancel(ctx domain.Context, id string) (domain.Job, error) {
	if err := s.Jobs.RequestCancel(ctx, id); err != nil {
		return domain.Job{}, err
	}
	s.signal(id)
	return s.Jobs.Get(ctx, id)
}

// Status returns the current job record.
func (s *JobService) Status(ctx domain.Context, id string) (domain.Job, error) {
	return s.Jobs.Get(ctx, id)
}

// SweepStale fails processing jobs whose heartbeat stopped before olderThan;
// they belonged to a runner that died without finalizing. Jobs this instance
// is still running are skipped regardless of timestamps.
func (s *JobService) SweepStale(ctx domain.Context, olderThan time.Time) (int, error) {
	stale, err := s.Jobs.ListStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, j := range stale {
		if s.owns(j.ID) {
			continue
		}
		msg := fmt.Sprintf("stale: no progress since %s", j.UpdatedAt.UTC().Format(time.RFC3339))
		if err := s.Jobs.MarkFailed(ctx, j.ID, msg); err != nil {
			slog.Error("stale job sweep failed", slog.String("job_id", j.ID), slog.Any("error", err))
			continue
		}
		slog.Warn("stale job failed", slog.String("job_id", j.ID), slog.Time("last_update", j.UpdatedAt))
		observability.FinishJob(string(domain.JobFailed))
		swept++
	}
	return swept, nil
}

// Shutdown cancels every running job and waits for the runners to drain.
func (s *JobService) Shutdown(ctx domain.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("op=job.shutdown: %w", ctx.Err())
	}
}

func (s *JobService) strategyFor(set domain.AnalysisSettings) (strategy.Strategy, error) {
	if set.StrategyID == 0 {
		return s.Book.Default(), nil
	}
	return s.Book.Get(set.StrategyID)
}

func (s *JobService) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[id] = cancel
}

func (s *JobService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

func (s *JobService) signal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
}

func (s *JobService) owns(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancels[id]
	return ok
}

// normalizeTickers uppercases, trims and de-duplicates while preserving the
// caller's order.
func normalizeTickers(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
