package store

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/sqldb"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Watchlist persists the tracked-ticker list. Tickers are unique; the
// store surfaces the constraint as ErrWatchlistDuplicate.
type Watchlist struct {
	db sqldb.DB
}

// NewWatchlist constructs a Watchlist store.
func NewWatchlist(db sqldb.DB) *Watchlist { return &Watchlist{db: db} }

// Add inserts an item and returns it with the generated id.
func (s *Watchlist) Add(ctx domain.Context, item domain.WatchlistItem) (domain.WatchlistItem, error) {
	tracer := otel.Tracer("store.watchlist")
	ctx, span := tracer.Start(ctx, "watchlist.Add")
	defer span.End()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	q := `INSERT INTO watchlist (ticker, symbol, notes, created_at) VALUES (?, ?, ?, ?) RETURNING id`
	row, err := s.db.QueryRow(ctx, q, item.Ticker, item.Symbol, item.Notes, item.CreatedAt)
	if err != nil {
		if errors.Is(err, sqldb.ErrDuplicate) {
			return domain.WatchlistItem{}, fmt.Errorf("op=watchlist.add: ticker %s: %w", item.Ticker, domain.ErrWatchlistDuplicate)
		}
		return domain.WatchlistItem{}, fmt.Errorf("op=watchlist.add: %w", err)
	}
	item.ID = row.Int64("id")
	return item, nil
}

// List returns all items, newest first.
func (s *Watchlist) List(ctx domain.Context) ([]domain.WatchlistItem, error) {
	tracer := otel.Tracer("store.watchlist")
	ctx, span := tracer.Start(ctx, "watchlist.List")
	defer span.End()
	rows, err := s.db.Query(ctx, `SELECT id, ticker, symbol, notes, created_at FROM watchlist ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("op=watchlist.list: %w", err)
	}
	out := make([]domain.WatchlistItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.WatchlistItem{
			ID:        r.Int64("id"),
			Ticker:    r.String("ticker"),
			Symbol:    r.String("symbol"),
			Notes:     r.String("notes"),
			CreatedAt: r.Time("created_at"),
		})
	}
	return out, nil
}

// Remove deletes by ticker. A miss is reported as ErrWatchlistNotFound so
// the edge can answer 404 without a prior read.
func (s *Watchlist) Remove(ctx domain.Context, ticker string) error {
	tracer := otel.Tracer("store.watchlist")
	ctx, span := tracer.Start(ctx, "watchlist.Remove")
	defer span.End()
	n, err := s.db.Exec(ctx, `DELETE FROM watchlist WHERE ticker = ?`, ticker)
	if err != nil {
		return fmt.Errorf("op=watchlist.remove: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("op=watchlist.remove: ticker %s: %w", ticker, domain.ErrWatchlistNotFound)
	}
	return nil
}
