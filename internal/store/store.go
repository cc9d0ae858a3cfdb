// Package store defines the interfaces for persisting crawl output.
// By using an interface, we decouple the crawler from a specific database
// implementation, allowing for easier testing and flexibility in the future.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// RunStatus is the lifecycle state of a crawl run record.
type RunStatus string

// Crawl run statuses. A run starts as running and is always finalized to one
// of the terminal states before the crawler returns.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// RepoRow is one repository upsert. NodeID is the natural key.
type RepoRow struct {
	NodeID          string
	NameWithOwner   string
	OwnerLogin      string
	Name            string
	URL             string
	IsFork          bool
	IsArchived      bool
	IsPrivate       bool
	DefaultBranch   *string
	PrimaryLanguage *string
	StargazerCount  int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PushedAt        *time.Time
	RawPayload      []byte
}

// SnapshotRow is one star-count observation, keyed by (repo, snapshot date).
type SnapshotRow struct {
	NodeID         string
	SnapshotDate   time.Time
	StargazerCount int
}

// RunCounters are the final counters written into a run record.
type RunCounters struct {
	RepoCount           int
	PartitionCount      int
	SplitPartitionCount int
}

// RunRecord is one crawl invocation's bookkeeping row.
type RunRecord struct {
	ID                  uuid.UUID
	StartedAt           time.Time
	FinishedAt          *time.Time
	Status              RunStatus
	TargetRepoCount     int
	RepoCount           int
	PartitionCount      int
	SplitPartitionCount int
	Metadata            []byte
	ErrorMessage        *string
}

// Store is the persistence sink consumed by the crawler.
type Store interface {
	// StartRun inserts a running run record and returns its ID.
	StartRun(ctx context.Context, targetRepoCount int) (uuid.UUID, error)

	// FinishRun finalizes a run record with its terminal status and counters.
	// errorMessage is nil unless the run failed.
	FinishRun(
		ctx context.Context,
		runID uuid.UUID,
		status RunStatus,
		counters RunCounters,
		metadataJSON string,
		errorMessage *string,
	) error

	// UpsertPage writes one page of repository rows and their snapshots in a
	// single transaction. Either every row commits or none do; the upserts
	// are idempotent under retry via the rows' natural keys.
	UpsertPage(ctx context.Context, repos []RepoRow, snapshots []SnapshotRow) error
}
