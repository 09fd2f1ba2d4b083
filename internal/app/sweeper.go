package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/stock-analyzer/internal/usecase"
)

// Sweeper periodically fails processing jobs whose heartbeat stopped: rows
// orphaned by a crashed runner or a previous process. Without it a client
// polling such a job would wait forever.
type Sweeper struct {
	jobs     *usecase.JobService
	maxAge   time.Duration
	interval time.Duration
}

func NewSweeper(jobs *usecase.JobService, maxAge, interval time.Duration) *Sweeper {
	if jobs == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{jobs: jobs, maxAge: maxAge, interval: interval}
}

// Run blocks until ctx is done, sweeping once per interval. The immediate
// first sweep catches jobs orphaned by the previous process.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stale job sweeper stopping")
			return
		case <-t.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	ctx, span := otel.Tracer("jobs.sweeper").Start(ctx, "Sweeper.sweepOnce")
	defer span.End()
	span.SetAttributes(attribute.Float64("jobs.max_age_seconds", s.maxAge.Seconds()))

	swept, err := s.jobs.SweepStale(ctx, time.Now().UTC().Add(-s.maxAge))
	if err != nil {
		span.RecordError(err)
		slog.Error("stale job sweep failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("jobs.swept", swept))
	if swept > 0 {
		slog.Warn("stale jobs failed by sweeper", slog.Int("count", swept))
	}
}
