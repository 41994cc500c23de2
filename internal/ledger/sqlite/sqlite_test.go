package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"metricize/internal/ledger"
	"metricize/internal/rewrite"
)

func openTemp(t *testing.T) ledger.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db")
	s, err := ledger.Open(context.Background(), ledger.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

// TestStore_InsertAndCount exercises the full write path against a real
// on-disk SQLite file and checks the per-unit aggregate.
func TestStore_InsertAndCount(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	rows := []ledger.Conversion{
		{Page: "a.html", Original: "5 miles", Number: "5", Unit: "miles", Value: "8.05", Label: "km", CreatedAt: now},
		{Page: "a.html", Original: "1 mile", Number: "1", Unit: "miles", Value: "1.61", Label: "km", CreatedAt: now},
		{Page: "b.html", Original: "3 oz", Number: "3", Unit: "oz", Value: "85.05", Label: "g", CreatedAt: now},
	}
	n, err := s.Insert(ctx, rows)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if n != 3 {
		t.Fatalf("inserted=%d, want 3", n)
	}

	got, err := s.CountByUnit(ctx)
	if err != nil {
		t.Fatalf("CountByUnit: %v", err)
	}
	if got["miles"] != 2 || got["oz"] != 1 || len(got) != 2 {
		t.Fatalf("counts=%v, want miles=2 oz=1", got)
	}
}

func TestStore_EnsureSchemaIdempotent(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestStore_InsertEmpty(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	n, err := s.Insert(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v, want 0/nil", n, err)
	}
}

// TestBuffer_FlushToSQLite wires the in-memory buffer to a real backend.
func TestBuffer_FlushToSQLite(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	b := ledger.NewBuffer()
	for i := 0; i < 4; i++ {
		b.RecordConversion(rewrite.Conversion{Page: "c.html", Original: "2 lb", Number: "2", Unit: "lb", Value: "0.91", Label: "kg"})
	}

	n, err := b.FlushTo(context.Background(), s)
	if err != nil {
		t.Fatalf("FlushTo: %v", err)
	}
	if n != 4 {
		t.Fatalf("flushed=%d, want 4", n)
	}
	got, _ := s.CountByUnit(context.Background())
	if got["lb"] != 4 {
		t.Fatalf("lb=%d, want 4", got["lb"])
	}
}
