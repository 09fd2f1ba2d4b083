package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the minimal pgxpool surface used by the server backend. Tests
// substitute a stub; production passes *pgxpool.Pool.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// OpenPostgres connects the server backend with the pool tuned for the
// worker fan-out plus HTTP headroom, and pgx spans exported through otel.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=sqldb.open_postgres: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 20
	}
	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=sqldb.open_postgres: %w", err)
	}
	return &pgxDB{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (integration tests).
func NewPostgresFromPool(pool PgxPool) DB {
	return &pgxDB{pool: pool}
}

type pgxDB struct {
	pool PgxPool
}

func (d *pgxDB) Dialect() Dialect { return DialectPostgres }

func (d *pgxDB) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

func (d *pgxDB) Close() error {
	d.pool.Close()
	return nil
}

func (d *pgxDB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	q, err := Rewrite(DialectPostgres, query, len(args))
	if err != nil {
		return 0, err
	}
	var affected int64
	err = withRetry(ctx, func() error {
		tag, execErr := d.pool.Exec(ctx, q, args...)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, mapDriverErr("postgres.exec", err)
	}
	return affected, nil
}

func (d *pgxDB) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	q, err := Rewrite(DialectPostgres, query, len(args))
	if err != nil {
		return nil, err
	}
	var out []Row
	err = withRetry(ctx, func() error {
		rows, qErr := d.pool.Query(ctx, q, args...)
		if qErr != nil {
			return qErr
		}
		res, scanErr := scanPgxRows(rows)
		if scanErr != nil {
			return scanErr
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, mapDriverErr("postgres.query", err)
	}
	return out, nil
}

func (d *pgxDB) QueryRow(ctx context.Context, query string, args ...any) (Row, error) {
	return firstRow(d.Query(ctx, query, args...))
}

func (d *pgxDB) WithTx(ctx context.Context, fn func(tx Querier) error) error {
	err := withRetry(ctx, func() error {
		tx, beginErr := d.pool.BeginTx(ctx, pgx.TxOptions{})
		if beginErr != nil {
			return beginErr
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if fnErr := fn(&pgxTx{tx: tx}); fnErr != nil {
			return fnErr
		}
		return tx.Commit(ctx)
	})
	if err != nil && isDuplicate(err) {
		return fmt.Errorf("op=postgres.tx: %w: %v", ErrDuplicate, err)
	}
	return err
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	q, err := Rewrite(DialectPostgres, query, len(args))
	if err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgxTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	q, err := Rewrite(DialectPostgres, query, len(args))
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanPgxRows(rows)
}

func (t *pgxTx) QueryRow(ctx context.Context, query string, args ...any) (Row, error) {
	return firstRow(t.Query(ctx, query, args...))
}

// scanPgxRows drains a pgx result set into normalized rows.
func scanPgxRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		r := make(Row, len(fields))
		for i, f := range fields {
			r[strings.ToLower(f.Name)] = normalizeValue(vals[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
