package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeFormat sorts lexically in chronological order
const sqliteTimeFormat = "2006-01-02 15:04:05.000000"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS verification_runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		contract TEXT NOT NULL,
		address TEXT NOT NULL,
		source TEXT NOT NULL,
		build_info_path TEXT NOT NULL,
		source_path TEXT,
		solc_version TEXT,
		ignore_metadata INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL,
		match_type TEXT NOT NULL,
		onchain_length INTEGER NOT NULL,
		local_length INTEGER NOT NULL,
		mismatch_offset INTEGER,
		warnings TEXT NOT NULL DEFAULT '[]',
		duration_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_target ON verification_runs(contract, address);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Debug("database migrations complete", "driver", "sqlite")
	return nil
}

// RecordRun stores a verification run
func (s *SQLiteStore) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = generateID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	warnings, err := encodeWarnings(run.Warnings)
	if err != nil {
		return fmt.Errorf("encoding warnings: %w", err)
	}

	query := `
		INSERT INTO verification_runs (id, contract, address, source, build_info_path, source_path, solc_version,
			ignore_metadata, matched, match_type, onchain_length, local_length, mismatch_offset, warnings, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.Contract, run.Address, run.Source, run.BuildInfoPath, run.SourcePath, run.SolcVersion,
		run.IgnoreMetadata, run.Match, run.MatchType, run.OnChainLength, run.LocalLength, nullInt(run.MismatchOffset),
		warnings, run.DurationMS, run.CreatedAt.UTC().Format(sqliteTimeFormat),
	)
	return err
}

const sqliteRunColumns = `id, contract, address, source, build_info_path, source_path, solc_version,
	ignore_metadata, matched, match_type, onchain_length, local_length, mismatch_offset, warnings, duration_ms, created_at`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteRunColumns+" FROM verification_runs WHERE id = ?", id)
	run, err := scanSQLiteRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// LatestRun retrieves the most recent run for a contract at an address
func (s *SQLiteStore) LatestRun(ctx context.Context, contract, address string) (*Run, error) {
	filter := RunFilter{Contract: contract, Address: address}
	where, args := filter.where(func(int) string { return "?" })
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteRunColumns+" FROM verification_runs"+where+" ORDER BY seq DESC LIMIT 1", args...)
	run, err := scanSQLiteRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	limit := pagination.limit()
	where, args := filter.where(func(int) string { return "?" })
	query := "SELECT " + sqliteRunColumns + " FROM verification_runs" + where + " ORDER BY seq DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit+1)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}

	return &PaginatedResult[Run]{Data: runs, HasMore: hasMore}, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scanner) (*Run, error) {
	var (
		run        Run
		sourcePath sql.NullString
		solc       sql.NullString
		offset     sql.NullInt64
		warnings   string
		createdAt  string
	)
	err := row.Scan(
		&run.ID, &run.Contract, &run.Address, &run.Source, &run.BuildInfoPath, &sourcePath, &solc,
		&run.IgnoreMetadata, &run.Match, &run.MatchType, &run.OnChainLength, &run.LocalLength, &offset,
		&warnings, &run.DurationMS, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	run.SourcePath = sourcePath.String
	run.SolcVersion = solc.String
	if offset.Valid {
		o := int(offset.Int64)
		run.MismatchOffset = &o
	}
	if run.Warnings, err = decodeWarnings([]byte(warnings)); err != nil {
		return nil, fmt.Errorf("decoding warnings: %w", err)
	}
	if run.CreatedAt, err = time.ParseInLocation(sqliteTimeFormat, createdAt, time.UTC); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &run, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
