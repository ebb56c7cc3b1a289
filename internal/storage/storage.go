// Package storage records verification runs in SQLite or PostgreSQL.
package storage

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// RunStore handles verification run history
type RunStore interface {
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context, contract, address string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error)
}

// Store combines the run store with lifecycle methods.
type Store interface {
	RunStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run is a recorded verification result
type Run struct {
	ID             string
	Contract       string
	Address        string
	Source         string
	BuildInfoPath  string
	SourcePath     string
	SolcVersion    string
	IgnoreMetadata bool
	Match          bool
	MatchType      string
	OnChainLength  int
	LocalLength    int
	MismatchOffset *int // nil when the bytecode matched
	Warnings       []string
	DurationMS     int64
	CreatedAt      time.Time
}

// RunFilter contains filter options for listing runs
type RunFilter struct {
	Contract string
	Address  string
	Match    *bool
}

// Page size bounds for ListRuns
const (
	DefaultLimit = 20
	MaxLimit     = 1000
)

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit int // zero or less uses DefaultLimit
}

// limit returns the page size clamped to [1, MaxLimit]
func (p PaginationParams) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data    []T
	HasMore bool
}

// New opens the store named by dsn. postgres:// and postgresql:// URLs use
// PostgreSQL; anything else is a SQLite file path, optionally prefixed with
// sqlite://.
func New(dsn string, logger *slog.Logger) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(dsn, logger)
	default:
		return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"), logger)
	}
}

// where builds a WHERE clause from the filter. placeholder returns the
// bind marker for the n-th (1-based) argument.
func (f RunFilter) where(placeholder func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Contract != "" {
		args = append(args, f.Contract)
		conds = append(conds, "contract = "+placeholder(len(args)))
	}
	if f.Address != "" {
		args = append(args, strings.ToLower(f.Address))
		conds = append(conds, "LOWER(address) = "+placeholder(len(args)))
	}
	if f.Match != nil {
		args = append(args, *f.Match)
		conds = append(conds, "matched = "+placeholder(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
