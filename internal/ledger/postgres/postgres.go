// Package postgres is the Postgres ledger backend (pgx connection pool).
// Rows are written with the COPY protocol.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"metricize/internal/ledger"
)

func init() {
	ledger.Register("postgres", Open)
}

// Store implements ledger.Store for Postgres.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// Open creates a pool for cfg.DSN and verifies connectivity.
func Open(ctx context.Context, cfg ledger.Config) (ledger.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, table: cfg.Table}, nil
}

// Close closes the connection pool.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema implements ledger.Store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	page TEXT NOT NULL,
	original TEXT NOT NULL,
	number TEXT NOT NULL,
	unit TEXT NOT NULL,
	value TEXT NOT NULL,
	label TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Insert implements ledger.Store.
func (s *Store) Insert(ctx context.Context, rows []ledger.Conversion) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		return append(rows[i].Row(), rows[i].CreatedAt.UTC()), nil
	})
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.table}, ledger.Columns, src)
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", s.table, err)
	}
	return n, nil
}

// CountByUnit implements ledger.Store.
func (s *Store) CountByUnit(ctx context.Context) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT unit, COUNT(*) FROM %s GROUP BY unit`, pgx.Identifier{s.table}.Sanitize())
	rows, err := s.pool.Query(ctx, q)
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
