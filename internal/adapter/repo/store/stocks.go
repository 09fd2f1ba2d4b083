package store

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/sqldb"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Stocks persists the tradable-symbol catalogue used for bulk analysis and
// the paged listing endpoint.
type Stocks struct {
	db sqldb.DB
}

// NewStocks constructs a Stocks store.
func NewStocks(db sqldb.DB) *Stocks { return &Stocks{db: db} }

// ListPaged returns one page of the catalogue plus the total count. A
// non-empty search filters symbol and name case-insensitively.
func (s *Stocks) ListPaged(ctx domain.Context, p domain.PageRequest, search string) ([]domain.Stock, int, error) {
	tracer := otel.Tracer("store.stocks")
	ctx, span := tracer.Start(ctx, "stocks.ListPaged")
	defer span.End()

	where := ""
	args := []any{}
	if search != "" {
		// UPPER on both sides keeps the match case-insensitive on PostgreSQL,
		// where plain LIKE is case-sensitive.
		where = ` WHERE (UPPER(symbol) LIKE ? OR UPPER(name) LIKE ?)`
		pat := "%" + strings.ToUpper(search) + "%"
		args = append(args, pat, pat)
	}

	row, err := s.db.QueryRow(ctx, `SELECT COUNT(*) AS n FROM stocks`+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=stock.list_paged: count: %w", err)
	}
	total := row.Int("n")

	q := `SELECT id, symbol, name, sector, exchange FROM stocks` + where +
		orderClause(p, map[string]string{"symbol": "symbol", "name": "name", "sector": "sector", "id": "id"}, "symbol") +
		` LIMIT ? OFFSET ?`
	rows, err := s.db.Query(ctx, q, append(args, p.PerPage, p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=stock.list_paged: %w", err)
	}
	out := make([]domain.Stock, 0, len(rows))
	for _, r := range rows {
		out = append(out, scanStock(r))
	}
	return out, total, nil
}

// Universe returns the analyzable tickers for bulk jobs, exchange suffixes
// applied, ordered by symbol so runs are reproducible.
func (s *Stocks) Universe(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("store.stocks")
	ctx, span := tracer.Start(ctx, "stocks.Universe")
	defer span.End()
	rows, err := s.db.Query(ctx, `SELECT symbol, exchange FROM stocks ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("op=stock.universe: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		st := domain.Stock{Symbol: r.String("symbol"), Exchange: r.String("exchange")}
		out = append(out, st.Ticker())
	}
	return out, nil
}

// UpsertBatch inserts or refreshes catalogue rows keyed by symbol inside one
// transaction. Re-seeding at boot is therefore idempotent.
func (s *Stocks) UpsertBatch(ctx domain.Context, stocks []domain.Stock) (int, error) {
	tracer := otel.Tracer("store.stocks")
	ctx, span := tracer.Start(ctx, "stocks.UpsertBatch")
	defer span.End()
	if len(stocks) == 0 {
		return 0, nil
	}
	// ON CONFLICT upsert parses identically on both backends.
	q := `INSERT INTO stocks (symbol, name, sector, exchange) VALUES (?, ?, ?, ?) ON CONFLICT (symbol) DO UPDATE SET name = excluded.name, sector = excluded.sector, exchange = excluded.exchange`
	n := 0
	err := s.db.WithTx(ctx, func(tx sqldb.Querier) error {
		for _, st := range stocks {
			if st.Symbol == "" {
				continue
			}
			if _, err := tx.Exec(ctx, q, st.Symbol, st.Name, st.Sector, st.Exchange); err != nil {
				return fmt.Errorf("symbol %s: %w", st.Symbol, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("op=stock.upsert_batch: %w", err)
	}
	return n, nil
}

// Count returns the catalogue size.
func (s *Stocks) Count(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("store.stocks")
	ctx, span := tracer.Start(ctx, "stocks.Count")
	defer span.End()
	row, err := s.db.QueryRow(ctx, `SELECT COUNT(*) AS n FROM stocks`)
	if err != nil {
		return 0, fmt.Errorf("op=stock.count: %w", err)
	}
	return row.Int("n"), nil
}

func scanStock(r sqldb.Row) domain.Stock {
	return domain.Stock{
		ID:       r.Int64("id"),
		Symbol:   r.String("symbol"),
		Name:     r.String("name"),
		Sector:   r.String("sector"),
		Exchange: r.String("exchange"),
	}
}
