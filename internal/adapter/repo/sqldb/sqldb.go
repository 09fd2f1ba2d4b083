// Package sqldb provides the dual-backend persistence layer.
//
// Stores write SQL once against the canonical '?' placeholder dialect; the
// package rewrites statements for the active backend (embedded SQLite for
// development, PostgreSQL for production) and normalizes every row into a
// lowercase-keyed map so callers never branch on the driver.
package sqldb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Dialect identifies the active backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Package sentinels. Stores translate these into domain errors.
var (
	// ErrNoRows is returned by QueryRow when the statement matched nothing.
	ErrNoRows = errors.New("sqldb: no rows in result set")
	// ErrDuplicate is returned when a unique constraint rejected a write.
	ErrDuplicate = errors.New("sqldb: unique constraint violation")
)

// Row is one result row keyed by lowercase column name. Byte slices are
// decoded to strings during normalization; NULL stays nil.
type Row map[string]any

// Querier is the statement surface shared by DB and transactions.
// Queries use '?' placeholders; rewriting happens inside the call.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	QueryRow(ctx context.Context, query string, args ...any) (Row, error)
}

// DB is the backend-agnostic handle held by the stores. Connections are
// borrowed per call from the underlying pool and released on every exit
// path; no connection is ever cached across goroutines.
type DB interface {
	Querier
	// WithTx runs fn inside one transaction, committing when fn returns nil
	// and rolling back otherwise (including panics).
	WithTx(ctx context.Context, fn func(tx Querier) error) error
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and tunes the backend.
type Config struct {
	// DatabaseURL selects PostgreSQL when non-empty.
	DatabaseURL string
	// SQLitePath is the embedded database file used when DatabaseURL is empty.
	SQLitePath string
	// MaxConns bounds the server-backend pool; 0 picks a default sized for
	// the worker pool plus HTTP headroom.
	MaxConns int32
}

// Open connects the configured backend, verifies reachability (with the
// transient-failure retry policy) and runs pending migrations.
func Open(ctx context.Context, cfg Config) (DB, error) {
	var (
		db  DB
		err error
	)
	if cfg.DatabaseURL != "" {
		db, err = OpenPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns)
	} else {
		db, err = OpenSQLite(ctx, cfg.SQLitePath)
	}
	if err != nil {
		return nil, err
	}
	if err := withRetry(ctx, func() error { return db.Ping(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("op=sqldb.open: ping: %w", err)
	}
	if _, err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// normalizeValue flattens driver-specific values: []byte becomes string,
// everything else passes through (NULL stays nil).
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func firstRow(rows []Row, err error) (Row, error) {
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

// Typed accessors. They absorb the representation differences between the
// two backends (SQLite integers for booleans, string timestamps, int64
// counters) so store code reads one way.

func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func (r Row) NullString(col string) *string {
	if r[col] == nil {
		return nil
	}
	s := r.String(col)
	return &s
}

func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (r Row) Int(col string) int {
	return int(r.Int64(col))
}

func (r Row) NullInt(col string) *int {
	if r[col] == nil {
		return nil
	}
	n := r.Int(col)
	return &n
}

func (r Row) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	default:
		return false
	}
}

// sqliteTimeLayouts covers the formats go-sqlite3 may hand back when a
// timestamp column was bound from a string.
var sqliteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v.UTC()
	case string:
		for _, layout := range sqliteTimeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

func (r Row) NullTime(col string) *time.Time {
	if r[col] == nil {
		return nil
	}
	t := r.Time(col)
	if t.IsZero() {
		return nil
	}
	return &t
}
