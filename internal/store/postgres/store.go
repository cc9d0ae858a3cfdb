// Package postgres provides the Postgres-backed persistence implementation
// for crawl output and run bookkeeping.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/github-star-crawler/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const repoUpsertSQL = `
INSERT INTO github.repositories (
    repo_node_id,
    name_with_owner,
    owner_login,
    repo_name,
    url,
    is_fork,
    is_archived,
    is_private,
    default_branch,
    primary_language,
    stargazer_count,
    created_at,
    updated_at,
    pushed_at,
    raw_payload,
    last_seen_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
ON CONFLICT (repo_node_id) DO UPDATE SET
    name_with_owner = EXCLUDED.name_with_owner,
    owner_login = EXCLUDED.owner_login,
    repo_name = EXCLUDED.repo_name,
    url = EXCLUDED.url,
    is_fork = EXCLUDED.is_fork,
    is_archived = EXCLUDED.is_archived,
    is_private = EXCLUDED.is_private,
    default_branch = EXCLUDED.default_branch,
    primary_language = EXCLUDED.primary_language,
    stargazer_count = EXCLUDED.stargazer_count,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    pushed_at = EXCLUDED.pushed_at,
    raw_payload = EXCLUDED.raw_payload,
    last_seen_at = NOW();`

const snapshotUpsertSQL = `
INSERT INTO github.repo_star_snapshots (
    repo_node_id,
    snapshot_date,
    stargazer_count,
    fetched_at
)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (repo_node_id, snapshot_date) DO UPDATE SET
    stargazer_count = EXCLUDED.stargazer_count,
    fetched_at = EXCLUDED.fetched_at;`

const startRunSQL = `
INSERT INTO github.crawl_runs (run_id, target_repo_count, status)
VALUES ($1, $2, $3);`

const finishRunSQL = `
UPDATE github.crawl_runs
SET finished_at = NOW(),
    status = $1,
    repo_count = $2,
    partition_count = $3,
    split_partition_count = $4,
    metadata = $5::jsonb,
    error_message = $6
WHERE run_id = $7;`

const listRunsSQL = `
SELECT run_id, started_at, finished_at, status, target_repo_count,
       repo_count, partition_count, split_partition_count, metadata, error_message
FROM github.crawl_runs
ORDER BY started_at DESC
LIMIT $1;`

// DB is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	db DB
}

// New connects a pgx pool and pings it to ensure the DSN is usable.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.db.Close()
}

// InitSchema applies the embedded schema. Every statement is idempotent, so
// re-running against an initialized database is safe.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// StartRun inserts a running run record and returns its generated ID.
func (s *Store) StartRun(ctx context.Context, targetRepoCount int) (uuid.UUID, error) {
	runID := uuid.New()
	if _, err := s.db.Exec(ctx, startRunSQL, runID, targetRepoCount, store.RunRunning); err != nil {
		return uuid.Nil, fmt.Errorf("insert crawl run: %w", err)
	}
	return runID, nil
}

// FinishRun finalizes a run record.
func (s *Store) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	status store.RunStatus,
	counters store.RunCounters,
	metadataJSON string,
	errorMessage *string,
) error {
	tag, err := s.db.Exec(
		ctx,
		finishRunSQL,
		status,
		counters.RepoCount,
		counters.PartitionCount,
		counters.SplitPartitionCount,
		metadataJSON,
		errorMessage,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish crawl run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish crawl run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// UpsertPage writes one page of repositories and snapshots in a single
// transaction. A failure anywhere rolls back the whole page so the crawler's
// persisted count never drifts from the database.
func (s *Store) UpsertPage(ctx context.Context, repos []store.RepoRow, snapshots []store.SnapshotRow) error {
	if len(repos) == 0 && len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, r := range repos {
		batch.Queue(
			repoUpsertSQL,
			r.NodeID,
			r.NameWithOwner,
			r.OwnerLogin,
			r.Name,
			r.URL,
			r.IsFork,
			r.IsArchived,
			r.IsPrivate,
			r.DefaultBranch,
			r.PrimaryLanguage,
			r.StargazerCount,
			r.CreatedAt,
			r.UpdatedAt,
			r.PushedAt,
			r.RawPayload,
		)
	}
	for _, snap := range snapshots {
		batch.Queue(snapshotUpsertSQL, snap.NodeID, snap.SnapshotDate, snap.StargazerCount)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close() //nolint:errcheck
			return fmt.Errorf("upsert batch statement %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close upsert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert transaction: %w", err)
	}
	return nil
}

// ListRuns returns the most recent crawl runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list crawl runs: %w", err)
	}
	defer rows.Close()

	var runs []store.RunRecord
	for rows.Next() {
		var run store.RunRecord
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.TargetRepoCount,
			&run.RepoCount,
			&run.PartitionCount,
			&run.SplitPartitionCount,
			&run.Metadata,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan crawl run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl run rows: %w", err)
	}
	return runs, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
