// Package sqlite is the SQLite ledger backend (modernc.org/sqlite, no cgo).
//
// SQLite has no timestamp type, so created_at is stored as an RFC3339Nano
// string in UTC for reliable round trips.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"metricize/internal/ledger"
)

func init() {
	ledger.Register("sqlite", Open)
}

// Store implements ledger.Store for SQLite.
type Store struct {
	db    *sql.DB
	table string
}

// Open connects to the database at cfg.DSN (a file path or "file:...?..." URI).
func Open(ctx context.Context, cfg ledger.Config) (ledger.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, table: cfg.Table}, nil
}

// Close closes the database handle.
func (s *Store) Close() { _ = s.db.Close() }

// EnsureSchema implements ledger.Store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	page TEXT NOT NULL,
	original TEXT NOT NULL,
	number TEXT NOT NULL,
	unit TEXT NOT NULL,
	value TEXT NOT NULL,
	label TEXT NOT NULL,
	created_at TEXT NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Insert implements ledger.Store. All rows go in one transaction.
func (s *Store) Insert(ctx context.Context, rows []ledger.Conversion) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		s.table,
		strings.Join(ledger.Columns, ", "),
		strings.TrimRight(strings.Repeat("?,", len(ledger.Columns)), ","),
	)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, r := range rows {
		args := append(r.Row(), r.CreatedAt.UTC().Format(time.RFC3339Nano))
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// CountByUnit implements ledger.Store.
func (s *Store) CountByUnit(ctx context.Context) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT unit, COUNT(*) FROM %s GROUP BY unit`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var unit string
		var n int64
		if err := rows.Scan(&unit, &n); err != nil {
			return nil, err
		}
		out[unit] = n
	}
	return out, rows.Err()
}
