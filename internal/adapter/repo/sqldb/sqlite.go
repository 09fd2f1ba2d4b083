package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // embedded backend driver
)

const sqliteMaxOpenConns = 25

// OpenSQLite opens (creating if needed) the embedded database file.
// WAL keeps readers concurrent with the single writer; busy_timeout queues
// writers instead of failing them; _txlock=immediate makes WithTx take the
// write lock up front so read-modify-write transactions serialize cleanly.
func OpenSQLite(_ context.Context, path string) (DB, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("op=sqldb.open_sqlite: mkdir %s: %w", dir, err)
			}
		}
	}
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("op=sqldb.open_sqlite: %w", err)
	}
	if path == ":memory:" {
		// A second pooled connection would see a different empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(sqliteMaxOpenConns)
		db.SetMaxIdleConns(8)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return &sqliteDB{db: db}, nil
}

func sqliteDSN(path string) string {
	params := "_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + path + "?_journal_mode=WAL&" + params
}

type sqliteDB struct {
	db *sql.DB
}

// NewSQLiteFromDB wraps an existing database/sql handle. Tests use this to
// drive the backend through a mock driver.
func NewSQLiteFromDB(db *sql.DB) DB {
	return &sqliteDB{db: db}
}

func (d *sqliteDB) Dialect() Dialect { return DialectSQLite }

func (d *sqliteDB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *sqliteDB) Close() error { return d.db.Close() }

func (d *sqliteDB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	q, err := Rewrite(DialectSQLite, query, len(args))
	if err != nil {
		return 0, err
	}
	var affected int64
	err = withRetry(ctx, func() error {
		res, execErr := d.db.ExecContext(ctx, q, args...)
		if execErr != nil {
			return execErr
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, mapDriverErr("sqlite.exec", err)
	}
	return affected, nil
}

func (d *sqliteDB) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	q, err := Rewrite(DialectSQLite, query, len(args))
	if err != nil {
		return nil, err
	}
	var out []Row
	err = withRetry(ctx, func() error {
		rows, qErr := d.db.QueryContext(ctx, q, args...)
		if qErr != nil {
			return qErr
		}
		defer func() { _ = rows.Close() }()
		res, scanErr := scanSQLRows(rows)
		if scanErr != nil {
			return scanErr
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, mapDriverErr("sqlite.query", err)
	}
	return out, nil
}

func (d *sqliteDB) QueryRow(ctx context.Context, query string, args ...any) (Row, error) {
	return firstRow(d.Query(ctx, query, args...))
}

func (d *sqliteDB) WithTx(ctx context.Context, fn func(tx Querier) error) error {
	err := withRetry(ctx, func() error {
		tx, beginErr := d.db.BeginTx(ctx, nil)
		if beginErr != nil {
			return beginErr
		}
		defer func() { _ = tx.Rollback() }()
		if fnErr := fn(&sqliteTx{tx: tx}); fnErr != nil {
			return fnErr
		}
		return tx.Commit()
	})
	if err != nil && isDuplicate(err) {
		return fmt.Errorf("op=sqlite.tx: %w: %v", ErrDuplicate, err)
	}
	return err
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	q, err := Rewrite(DialectSQLite, query, len(args))
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	q, err := Rewrite(DialectSQLite, query, len(args))
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSQLRows(rows)
}

func (t *sqliteTx) QueryRow(ctx context.Context, query string, args ...any) (Row, error) {
	return firstRow(t.Query(ctx, query, args...))
}

// scanSQLRows drains a database/sql result set into normalized rows.
func scanSQLRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[strings.ToLower(c)] = normalizeValue(vals[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func mapDriverErr(op string, err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("op=%s: %w: %v", op, ErrDuplicate, err)
	}
	return fmt.Errorf("op=%s: %w", op, err)
}
