// Package mssql is the Microsoft SQL Server ledger backend.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"metricize/internal/ledger"
)

func init() {
	ledger.Register("mssql", Open)
}

// Store implements ledger.Store for SQL Server.
type Store struct {
	db    *sql.DB
	table string
}

// Open connects with the "sqlserver" driver and verifies connectivity.
func Open(ctx context.Context, cfg ledger.Config) (ledger.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
	q := fmt.Sprintf(`IF OBJECT_ID(N'dbo.%[1]s', N'U') IS NULL
CREATE TABLE dbo.%[1]s (
	id BIGINT IDENTITY(1,1) PRIMARY KEY,
	page NVARCHAR(2048) NOT NULL,
	original NVARCHAR(512) NOT NULL,
	number NVARCHAR(128) NOT NULL,
	unit NVARCHAR(32) NOT NULL,
	value NVARCHAR(128) NOT NULL,
	label NVARCHAR(8) NOT NULL,
	created_at DATETIMEOFFSET NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// insertSQL builds a parameterized insert using the driver's @pN placeholders.
func insertSQL(table string) string {
	ph := make([]string, len(ledger.Columns))
	for i := range ph {
		ph[i] = fmt.Sprintf("@p%d", i+1)
	}
	return fmt.Sprintf(`INSERT INTO dbo.%s (%s) VALUES (%s)`,
		table, strings.Join(ledger.Columns, ", "), strings.Join(ph, ", "))
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

	stmt, err := tx.PrepareContext(ctx, insertSQL(s.table))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, append(r.Row(), r.CreatedAt.UTC())...); err != nil {
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
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT unit, COUNT_BIG(*) FROM dbo.%s GROUP BY unit`, s.table))
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
