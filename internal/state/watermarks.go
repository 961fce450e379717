// Package state persists per-table replication watermarks in a local
// SQLite database, so that gaps in the incremental window can be
// detected across runs.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
)

// Watermark records the last successful replication of one table.
type Watermark struct {
	Database     string
	Table        string
	LastSuccess  time.Time
	LookbackDays int
	RowsLoaded   int64
}

// Store is a SQLite-backed watermark store. A zero-value store is not
// usable; call Open.
type Store struct {
	db *sql.DB
}

// Open opens or creates the watermark database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	// The store is written from one goroutine at a time per table, but
	// SQLite still needs a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS watermarks (
			database_name TEXT NOT NULL,
			table_name    TEXT NOT NULL,
			last_success  TIMESTAMP NOT NULL,
			lookback_days INTEGER NOT NULL,
			rows_loaded   INTEGER NOT NULL,
			PRIMARY KEY (database_name, table_name)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating watermarks table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSuccess upserts the watermark for a table after a successful
// incremental run.
func (s *Store) RecordSuccess(ctx context.Context, database, table string, lookbackDays int, rowsLoaded int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (database_name, table_name, last_success, lookback_days, rows_loaded)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (database_name, table_name) DO UPDATE SET
			last_success = excluded.last_success,
			lookback_days = excluded.lookback_days,
			rows_loaded = excluded.rows_loaded
	`, database, table, time.Now().UTC(), lookbackDays, rowsLoaded)
	if err != nil {
		return fmt.Errorf("recording watermark for %s.%s: %w", database, table, err)
	}
	return nil
}

// Get returns the stored watermark for a table, or false when the table
// has never completed a run.
func (s *Store) Get(ctx context.Context, database, table string) (*Watermark, bool, error) {
	w := &Watermark{Database: database, Table: table}
	err := s.db.QueryRowContext(ctx, `
		SELECT last_success, lookback_days, rows_loaded
		FROM watermarks
		WHERE database_name = ? AND table_name = ?
	`, database, table).Scan(&w.LastSuccess, &w.LookbackDays, &w.RowsLoaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading watermark for %s.%s: %w", database, table, err)
	}
	return w, true, nil
}

// CheckGap warns when the incremental window no longer reaches back to
// the last successful run. Rows updated in the uncovered span will never
// be replicated by an incremental run; only a full refresh recovers them.
// Returns the uncovered span, zero when the window still covers it.
func (s *Store) CheckGap(ctx context.Context, database, table string, lookbackDays int) (time.Duration, error) {
	w, ok, err := s.Get(ctx, database, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	window := time.Duration(lookbackDays) * 24 * time.Hour
	elapsed := time.Since(w.LastSuccess)
	if elapsed <= window {
		return 0, nil
	}

	gap := elapsed - window
	logging.Warn("Incremental window for %s.%s has a %s gap: last success %s, lookback %dd. A full refresh is needed to recover missed updates.",
		database, table, gap.Round(time.Minute), w.LastSuccess.Format(time.RFC3339), lookbackDays)
	return gap, nil
}

// All returns every stored watermark, ordered by database and table.
func (s *Store) All(ctx context.Context) ([]Watermark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT database_name, table_name, last_success, lookback_days, rows_loaded
		FROM watermarks
		ORDER BY database_name, table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing watermarks: %w", err)
	}
	defer rows.Close()

	var out []Watermark
	for rows.Next() {
		var w Watermark
		if err := rows.Scan(&w.Database, &w.Table, &w.LastSuccess, &w.LookbackDays, &w.RowsLoaded); err != nil {
			return nil, fmt.Errorf("scanning watermark: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
