// Package ledger records applied conversions in a SQL table so a run can be
// audited afterwards ("which pages mentioned pounds, and what did we print").
//
// Backends register themselves by kind from an init function, the same way
// database/sql drivers do. Import internal/ledger/all to link every backend.
package ledger

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"metricize/internal/rewrite"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "metricize_conversions"

// Conversion is one persisted occurrence.
type Conversion struct {
	Page      string
	Original  string
	Number    string
	Unit      string
	Value     string
	Label     string
	CreatedAt time.Time
}

// Columns is the insert column order every backend uses.
var Columns = []string{"page", "original", "number", "unit", "value", "label", "created_at"}

// Row returns c's values in Columns order. created_at is left to the backend.
func (c Conversion) Row() []any {
	return []any{c.Page, c.Original, c.Number, c.Unit, c.Value, c.Label}
}

// Config selects and configures a backend.
type Config struct {
	Kind  string // "sqlite" | "postgres" | "mssql"
	DSN   string
	Table string
}

// Store is a conversion ledger backend.
type Store interface {
	// EnsureSchema creates the ledger table if it does not exist.
	EnsureSchema(ctx context.Context) error

	// Insert appends rows and returns how many were written.
	Insert(ctx context.Context, rows []Conversion) (int64, error)

	// CountByUnit returns how many rows exist per canonical unit.
	CountByUnit(ctx context.Context) (map[string]int64, error)

	// Close releases backend resources. Call once.
	Close()
}

// Factory builds a Store from a config whose Table has been validated.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("ledger: Register called with empty kind")
	}
	if f == nil {
		panic("ledger: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("ledger: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether s is safe to splice into SQL as a table name.
func ValidIdent(s string) bool { return identRE.MatchString(s) }

// Open constructs the Store registered under cfg.Kind.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("ledger: missing kind")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !ValidIdent(cfg.Table) {
		return nil, fmt.Errorf("ledger: invalid table name %q", cfg.Table)
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("ledger: unsupported kind=%s", cfg.Kind)
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", cfg.Kind, err)
	}
	return s, nil
}

// Buffer collects conversions from a scanner and writes them in one insert.
// It implements rewrite.Recorder. Safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	rows []Conversion
	now  func() time.Time
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

// RecordConversion implements rewrite.Recorder.
func (b *Buffer) RecordConversion(c rewrite.Conversion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, Conversion{
		Page:      c.Page,
		Original:  c.Original,
		Number:    c.Number,
		Unit:      c.Unit,
		Value:     c.Value,
		Label:     c.Label,
		CreatedAt: b.now().UTC(),
	})
}

// Len returns the number of buffered rows.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// FlushTo inserts buffered rows into s and clears the buffer on success.
func (b *Buffer) FlushTo(ctx context.Context, s Store) (int64, error) {
	b.mu.Lock()
	rows := b.rows
	b.rows = nil
	b.mu.Unlock()

	if len(rows) == 0 {
		return 0, nil
	}
	n, err := s.Insert(ctx, rows)
	if err != nil {
		// Put the rows back so a later flush can retry them.
		b.mu.Lock()
		b.rows = append(rows, b.rows...)
		b.mu.Unlock()
		return n, fmt.Errorf("ledger: insert %d rows: %w", len(rows), err)
	}
	return n, nil
}

var _ rewrite.Recorder = (*Buffer)(nil)
