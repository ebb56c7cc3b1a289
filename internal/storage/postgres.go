package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS verification_runs (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		contract TEXT NOT NULL,
		address TEXT NOT NULL,
		source TEXT NOT NULL,
		build_info_path TEXT NOT NULL,
		source_path TEXT,
		solc_version TEXT,
		ignore_metadata BOOLEAN NOT NULL DEFAULT FALSE,
		matched BOOLEAN NOT NULL,
		match_type TEXT NOT NULL,
		onchain_length INTEGER NOT NULL,
		local_length INTEGER NOT NULL,
		mismatch_offset INTEGER,
		warnings JSONB NOT NULL DEFAULT '[]',
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_runs_target ON verification_runs(contract, address);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Debug("database migrations complete", "driver", "postgres")
	return nil
}

// RecordRun stores a verification run
func (s *PostgresStore) RecordRun(ctx context.Context, run *Run) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.Contract, run.Address, run.Source, run.BuildInfoPath, run.SourcePath, run.SolcVersion,
		run.IgnoreMetadata, run.Match, run.MatchType, run.OnChainLength, run.LocalLength, nullInt(run.MismatchOffset),
		warnings, run.DurationMS, run.CreatedAt,
	)
	return err
}

const postgresRunColumns = `id::text, contract, address, source, build_info_path, source_path, solc_version,
	ignore_metadata, matched, match_type, onchain_length, local_length, mismatch_offset, warnings::text, duration_ms, created_at`

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postgresRunColumns+" FROM verification_runs WHERE id::text = $1", id)
	run, err := scanPostgresRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// LatestRun retrieves the most recent run for a contract at an address
func (s *PostgresStore) LatestRun(ctx context.Context, contract, address string) (*Run, error) {
	filter := RunFilter{Contract: contract, Address: address}
	where, args := filter.where(postgresPlaceholder)
	row := s.db.QueryRowContext(ctx, "SELECT "+postgresRunColumns+" FROM verification_runs"+where+" ORDER BY seq DESC LIMIT 1", args...)
	run, err := scanPostgresRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs, newest first
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	limit := pagination.limit()
	where, args := filter.where(postgresPlaceholder)
	query := fmt.Sprintf("SELECT %s FROM verification_runs%s ORDER BY seq DESC LIMIT $%d", postgresRunColumns, where, len(args)+1)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit+1)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
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

func postgresPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanPostgresRun(row scanner) (*Run, error) {
	var (
		run        Run
		sourcePath sql.NullString
		solc       sql.NullString
		offset     sql.NullInt64
		warnings   string
	)
	err := row.Scan(
		&run.ID, &run.Contract, &run.Address, &run.Source, &run.BuildInfoPath, &sourcePath, &solc,
		&run.IgnoreMetadata, &run.Match, &run.MatchType, &run.OnChainLength, &run.LocalLength, &offset,
		&warnings, &run.DurationMS, &run.CreatedAt,
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
	return &run, nil
}
