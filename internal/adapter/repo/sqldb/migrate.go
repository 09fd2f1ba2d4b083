package sqldb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Migration is one schema step. Statements are listed per dialect because
// the id/boolean/timestamp column forms differ; everything is written with
// IF NOT EXISTS so a re-run is harmless.
type Migration struct {
	Version  int
	Name     string
	SQLite   []string
	Postgres []string
}

func (m Migration) statements(d Dialect) []string {
	if d == DialectPostgres {
		return m.Postgres
	}
	return m.SQLite
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "jobs",
		SQLite: []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				job_id TEXT PRIMARY KEY,
				status TEXT NOT NULL DEFAULT 'queued',
				total INTEGER NOT NULL DEFAULT 0,
				completed INTEGER NOT NULL DEFAULT 0,
				successful INTEGER NOT NULL DEFAULT 0,
				progress INTEGER NOT NULL DEFAULT 0,
				errors TEXT NOT NULL DEFAULT '[]',
				current_ticker TEXT,
				current_index INTEGER,
				message TEXT NOT NULL DEFAULT '',
				cancel_requested INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				started_at TIMESTAMP,
				updated_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		},
		Postgres: []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				job_id TEXT PRIMARY KEY,
				status TEXT NOT NULL DEFAULT 'queued',
				total INTEGER NOT NULL DEFAULT 0,
				completed INTEGER NOT NULL DEFAULT 0,
				successful INTEGER NOT NULL DEFAULT 0,
				progress INTEGER NOT NULL DEFAULT 0,
				errors TEXT NOT NULL DEFAULT '[]',
				current_ticker TEXT,
				current_index INTEGER,
				message TEXT NOT NULL DEFAULT '',
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL,
				started_at TIMESTAMPTZ,
				updated_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		},
	},
	{
		Version: 2,
		Name:    "analysis_results",
		SQLite: []string{
			`CREATE TABLE IF NOT EXISTS analysis_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ticker TEXT NOT NULL,
				symbol TEXT NOT NULL DEFAULT '',
				job_id TEXT REFERENCES jobs(job_id) ON DELETE SET NULL,
				source TEXT NOT NULL DEFAULT 'watchlist' CHECK (source IN ('watchlist','bulk')),
				raw_data TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_results_ticker_job ON analysis_results(ticker, job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_results_ticker_created ON analysis_results(ticker, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_results_job ON analysis_results(job_id)`,
		},
		Postgres: []string{
			`CREATE TABLE IF NOT EXISTS analysis_results (
				id BIGSERIAL PRIMARY KEY,
				ticker TEXT NOT NULL,
				symbol TEXT NOT NULL DEFAULT '',
				job_id TEXT REFERENCES jobs(job_id) ON DELETE SET NULL,
				source TEXT NOT NULL DEFAULT 'watchlist' CHECK (source IN ('watchlist','bulk')),
				raw_data TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_results_ticker_job ON analysis_results(ticker, job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_results_ticker_created ON analysis_results(ticker, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_results_job ON analysis_results(job_id)`,
		},
	},
	{
		Version: 3,
		Name:    "watchlist",
		SQLite: []string{
			`CREATE TABLE IF NOT EXISTS watchlist (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ticker TEXT NOT NULL,
				symbol TEXT NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_watchlist_ticker ON watchlist(ticker)`,
		},
		Postgres: []string{
			`CREATE TABLE IF NOT EXISTS watchlist (
				id BIGSERIAL PRIMARY KEY,
				ticker TEXT NOT NULL,
				symbol TEXT NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_watchlist_ticker ON watchlist(ticker)`,
		},
	},
	{
		Version: 4,
		Name:    "stocks",
		SQLite: []string{
			`CREATE TABLE IF NOT EXISTS stocks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				sector TEXT NOT NULL DEFAULT '',
				exchange TEXT NOT NULL DEFAULT 'NSE'
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_stocks_symbol ON stocks(symbol)`,
		},
		Postgres: []string{
			`CREATE TABLE IF NOT EXISTS stocks (
				id BIGSERIAL PRIMARY KEY,
				symbol TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				sector TEXT NOT NULL DEFAULT '',
				exchange TEXT NOT NULL DEFAULT 'NSE'
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_stocks_symbol ON stocks(symbol)`,
		},
	},
}

// Migrate brings the schema to the latest version. The single-row
// schema_version table tracks the current integer; every pending migration
// runs in its own transaction and bumps the version atomically with its
// statements. Returns the number of migrations applied.
func Migrate(ctx context.Context, db DB) (int, error) {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("op=sqldb.migrate: version table: %w", err)
	}
	current := 0
	row, err := db.QueryRow(ctx, `SELECT version FROM schema_version LIMIT 1`)
	switch {
	case errors.Is(err, ErrNoRows):
		if _, err := db.Exec(ctx, `INSERT INTO schema_version (version) VALUES (?)`, 0); err != nil {
			return 0, fmt.Errorf("op=sqldb.migrate: seed version: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("op=sqldb.migrate: read version: %w", err)
	default:
		current = row.Int("version")
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := db.WithTx(ctx, func(tx Querier) error {
			for _, stmt := range m.statements(db.Dialect()) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
				}
			}
			if _, err := tx.Exec(ctx, `UPDATE schema_version SET version = ?`, m.Version); err != nil {
				return fmt.Errorf("migration %d (%s): bump version: %w", m.Version, m.Name, err)
			}
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("op=sqldb.migrate: %w", err)
		}
		current = m.Version
		applied++
		slog.Info("applied schema migration",
			slog.Int("version", m.Version),
			slog.String("name", m.Name))
	}
	return applied, nil
}
