package store

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/sqldb"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

const resultColumns = `id, ticker, symbol, job_id, source, raw_data, created_at`

// Results persists per-ticker analysis snapshots.
type Results struct {
	db sqldb.DB
}

// NewResults constructs a Results store.
func NewResults(db sqldb.DB) *Results { return &Results{db: db} }

// Insert stores one snapshot and returns its id. The (ticker, job_id)
// unique index rejects a second write for the same unit, which keeps a
// retried progress callback idempotent.
func (s *Results) Insert(ctx domain.Context, r domain.AnalysisResult) (int64, error) {
	tracer := otel.Tracer("store.results")
	ctx, span := tracer.Start(ctx, "results.Insert")
	defer span.End()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Source == "" {
		r.Source = domain.ResultSourceWatchlist
	}
	if r.RawData == "" {
		r.RawData = "{}"
	}
	q := `INSERT INTO analysis_results (ticker, symbol, job_id, source, raw_data, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`
	row, err := s.db.QueryRow(ctx, q, r.Ticker, r.Symbol, r.JobID, r.Source, r.RawData, r.CreatedAt)
	if err != nil {
		if errors.Is(err, sqldb.ErrDuplicate) {
			return 0, fmt.Errorf("op=result.insert: ticker %s: %w", r.Ticker, domain.ErrResultDuplicate)
		}
		return 0, fmt.Errorf("op=result.insert: %w", err)
	}
	return row.Int64("id"), nil
}

// History returns the most recent snapshots for a ticker, newest first.
func (s *Results) History(ctx domain.Context, ticker string, limit int) ([]domain.AnalysisResult, error) {
	tracer := otel.Tracer("store.results")
	ctx, span := tracer.Start(ctx, "results.History")
	defer span.End()
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + resultColumns + ` FROM analysis_results WHERE ticker = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.Query(ctx, q, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("op=result.history: %w", err)
	}
	return scanResults(rows), nil
}

// HistoryPaged returns one page of snapshots plus the total row count for
// the pagination envelope.
func (s *Results) HistoryPaged(ctx domain.Context, ticker string, p domain.PageRequest) ([]domain.AnalysisResult, int, error) {
	tracer := otel.Tracer("store.results")
	ctx, span := tracer.Start(ctx, "results.HistoryPaged")
	defer span.End()
	row, err := s.db.QueryRow(ctx, `SELECT COUNT(*) AS n FROM analysis_results WHERE ticker = ?`, ticker)
	if err != nil {
		return nil, 0, fmt.Errorf("op=result.history_paged: count: %w", err)
	}
	total := row.Int("n")

	q := `SELECT ` + resultColumns + ` FROM analysis_results WHERE ticker = ?` +
		orderClause(p, map[string]string{"created_at": "created_at", "id": "id"}, "created_at") +
		` LIMIT ? OFFSET ?`
	rows, err := s.db.Query(ctx, q, ticker, p.PerPage, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("op=result.history_paged: %w", err)
	}
	return scanResults(rows), total, nil
}

func scanResults(rows []sqldb.Row) []domain.AnalysisResult {
	out := make([]domain.AnalysisResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.AnalysisResult{
			ID:        r.Int64("id"),
			Ticker:    r.String("ticker"),
			Symbol:    r.String("symbol"),
			JobID:     r.NullString("job_id"),
			Source:    r.String("source"),
			RawData:   r.String("raw_data"),
			CreatedAt: r.Time("created_at"),
		})
	}
	return out
}

// orderClause builds ORDER BY from a whitelisted sort column. Sort and order
// are validated at the HTTP edge; the whitelist here is the second line of
// defense since column names cannot be bound as placeholders.
func orderClause(p domain.PageRequest, allowed map[string]string, fallback string) string {
	col, ok := allowed[p.Sort]
	if !ok {
		col = fallback
	}
	dir := "DESC"
	if p.Order == "asc" {
		dir = "ASC"
	}
	clause := fmt.Sprintf(" ORDER BY %s %s", col, dir)
	if col != "id" {
		// deterministic tiebreak for equal timestamps
		clause += fmt.Sprintf(", id %s", dir)
	}
	return clause
}
