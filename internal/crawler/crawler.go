// Package crawler drives the partition queue against the GitHub search API.
// It decides the fate of every partition (skip, split, or ingest),
// deduplicates repositories across the whole run, and keeps the run record
// honest: a run is always finalized, even when it fails mid-flight.
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-star-crawler/internal/github"
	"github.com/JakeFAU/github-star-crawler/internal/partition"
	"github.com/JakeFAU/github-star-crawler/internal/store"
)

// errNoMaxStars is returned when the discovery probe cannot find a single
// repository to read the star ceiling from.
var errNoMaxStars = errors.New("crawler: could not determine maximum star count")

// SearchClient is the remote query surface the crawler needs. The production
// implementation is *github.Client.
type SearchClient interface {
	Search(ctx context.Context, queryText string, pageSize int, cursor *string) (github.SearchResult, error)
}

// requestCounter is optionally implemented by the search client. The real
// client exposes its HTTP counters so the run summary can report request
// totals and throughput.
type requestCounter interface {
	RequestCount() int64
	SuccessfulQueryCount() int64
}

// Config holds the settings for a crawl session. This struct is decoupled
// from Viper, making the crawler easier to test independently.
type Config struct {
	TargetRepoCount     int
	PageSize            int
	MinStars            int
	MaxPartitionResults int
	BaseQualifiers      string
	LogEveryNPartitions int
}

// Crawler converts a target repository count into a finite sequence of
// partition probes, splits, and ingests.
type Crawler struct {
	cfg    Config
	client SearchClient
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Crawler.
func New(cfg Config, client SearchClient, st store.Store, logger *zap.Logger) *Crawler {
	return &Crawler{
		cfg:    cfg,
		client: client,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// runState is the mutable state of a single run. It is passed explicitly
// through the call graph so repeated runs cannot leak state into each other.
type runState struct {
	stats Stats
	seen  map[string]struct{}
	queue *partitionQueue
	today time.Time
}

// Run executes one crawl and returns its final stats. The run record is
// finalized with a terminal status in every path, including failure, before
// the error propagates.
func (c *Crawler) Run(ctx context.Context) (Stats, error) {
	startedAt := c.now()
	// Snapshot the client counters so the summary reports this run only,
	// even when one client serves many runs in continuous mode.
	var requestsAtStart, queriesAtStart int64
	if counter, ok := c.client.(requestCounter); ok {
		requestsAtStart = counter.RequestCount()
		queriesAtStart = counter.SuccessfulQueryCount()
	}

	runID, err := c.store.StartRun(ctx, c.cfg.TargetRepoCount)
	if err != nil {
		return Stats{}, fmt.Errorf("start run: %w", err)
	}
	c.logger.Info("Crawl run started",
		zap.String("run_id", runID.String()),
		zap.Int("target_repos", c.cfg.TargetRepoCount),
	)

	state := &runState{
		seen:  make(map[string]struct{}),
		queue: newPartitionQueue(),
		today: dayOf(c.now()),
	}

	if err := c.crawl(ctx, state); err != nil {
		// Finalize on a detached context: a cancelled run still must not
		// leave a `running` record behind.
		finishCtx := context.WithoutCancel(ctx)
		msg := err.Error()
		if finishErr := c.store.FinishRun(
			finishCtx, runID, store.RunFailed,
			state.stats.Counters(), state.stats.MetadataJSON(), &msg,
		); finishErr != nil {
			c.logger.Error("Failed to finalize failed run",
				zap.String("run_id", runID.String()),
				zap.Error(finishErr),
			)
		}
		return state.stats, err
	}

	status := store.RunPartial
	if state.stats.ReposPersisted >= c.cfg.TargetRepoCount {
		status = store.RunSucceeded
	}
	if err := c.store.FinishRun(
		ctx, runID, status,
		state.stats.Counters(), state.stats.MetadataJSON(), nil,
	); err != nil {
		return state.stats, fmt.Errorf("finish run: %w", err)
	}

	elapsed := c.now().Sub(startedAt)
	fields := []zap.Field{
		zap.String("run_id", runID.String()),
		zap.String("status", string(status)),
		zap.Int("repos_persisted", state.stats.ReposPersisted),
		zap.Int("partitions_processed", state.stats.PartitionsProcessed),
		zap.Int("partitions_split", state.stats.PartitionsSplit),
		zap.Int("duplicates", state.stats.DuplicateRepoNodes),
		zap.Duration("elapsed", elapsed),
		zap.Float64("repos_per_s", perSecond(int64(state.stats.ReposPersisted), elapsed)),
	}
	if counter, ok := c.client.(requestCounter); ok {
		requests := counter.RequestCount() - requestsAtStart
		fields = append(fields,
			zap.Int64("http_requests", requests),
			zap.Int64("successful_queries", counter.SuccessfulQueryCount()-queriesAtStart),
			zap.Float64("http_req_per_s", perSecond(requests, elapsed)),
		)
	}
	c.logger.Info("Crawl run finished", fields...)
	return state.stats, nil
}

func perSecond(count int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(count) / elapsed.Seconds()
}

func (c *Crawler) crawl(ctx context.Context, state *runState) error {
	maxStars, err := c.maxStarCount(ctx)
	if err != nil {
		return err
	}
	state.stats.MaxStarCount = maxStars
	state.queue.Push(partition.New(c.cfg.MinStars, maxStars))

	for state.queue.Len() > 0 && state.stats.ReposPersisted < c.cfg.TargetRepoCount {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl interrupted: %w", err)
		}

		part := state.queue.Pop()
		state.stats.PartitionsProcessed++
		partitionsProcessedTotal.Inc()
		queueDepth.Set(float64(state.queue.Len()))

		remaining := c.cfg.TargetRepoCount - state.stats.ReposPersisted
		queryText := part.Query(c.cfg.BaseQualifiers)

		// The probe doubles as the first ingest page, so an under-cap
		// partition costs no extra request.
		firstPage, err := c.client.Search(ctx, queryText, min(c.cfg.PageSize, remaining), nil)
		if err != nil {
			return fmt.Errorf("probe partition %s: %w", part.Label(), err)
		}

		switch count := firstPage.RepositoryCount; {
		case count == 0:
			state.stats.PartitionsSkipped++
			partitionsSkippedTotal.WithLabelValues("empty").Inc()

		case count > c.cfg.MaxPartitionResults:
			high, low, ok := c.splitPartition(part, state.today)
			if !ok {
				// A single star value on a single day still over the cap:
				// terminal, not requeued, so the run always terminates.
				c.logger.Warn("Partition exceeds result cap but cannot be split; dropping",
					zap.String("partition", part.Label()),
					zap.Int("count", count),
				)
				state.stats.PartitionsSkipped++
				partitionsSkippedTotal.WithLabelValues("unsplittable").Inc()
				break
			}
			state.stats.PartitionsSplit++
			partitionsSplitTotal.Inc()
			state.queue.Push(high)
			state.queue.Push(low)

		default:
			persisted, duplicates, err := c.ingestPartition(ctx, queryText, remaining, state, firstPage)
			state.stats.ReposPersisted += persisted
			state.stats.DuplicateRepoNodes += duplicates
			if err != nil {
				return err
			}
		}

		c.logProgress(state)
	}
	return nil
}

// splitPartition picks the split dimension: stars first; once the star range
// is a single value, attach a date window and split by day.
func (c *Crawler) splitPartition(
	p partition.Partition,
	today time.Time,
) (partition.Partition, partition.Partition, bool) {
	if high, low, ok := p.SplitStars(); ok {
		return high, low, true
	}
	windowed := p.WithDateWindow(today)
	if windowed != p {
		return windowed.SplitDates()
	}
	return p.SplitDates()
}

// maxStarCount discovers the star ceiling by asking for the single
// highest-starred repository matching the base qualifiers.
func (c *Crawler) maxStarCount(ctx context.Context) (int, error) {
	queryText := strings.TrimSpace(c.cfg.BaseQualifiers + " sort:stars-desc")
	result, err := c.client.Search(ctx, queryText, 1, nil)
	if err != nil {
		return 0, fmt.Errorf("discover max star count: %w", err)
	}
	for _, node := range result.Nodes {
		if node != nil && node.ID != "" {
			return node.StargazerCount, nil
		}
	}
	return 0, errNoMaxStars
}

// ingestPartition pages through one under-cap partition, deduplicating
// against the run's seen set and handing fresh rows to the store in
// page-sized batches. It stops early once rowLimit is reached.
func (c *Crawler) ingestPartition(
	ctx context.Context,
	queryText string,
	rowLimit int,
	state *runState,
	firstPage github.SearchResult,
) (int, int, error) {
	persisted := 0
	duplicates := 0
	page := &firstPage
	var cursor *string

	for persisted < rowLimit {
		if page == nil {
			next, err := c.client.Search(ctx, queryText, min(c.cfg.PageSize, rowLimit-persisted), cursor)
			if err != nil {
				return persisted, duplicates, fmt.Errorf("page partition: %w", err)
			}
			page = &next
		}
		if len(page.Nodes) == 0 {
			break
		}

		repoRows := make([]store.RepoRow, 0, len(page.Nodes))
		snapshotRows := make([]store.SnapshotRow, 0, len(page.Nodes))
		for _, node := range page.Nodes {
			if node == nil || node.ID == "" {
				continue
			}
			if _, dup := state.seen[node.ID]; dup {
				duplicates++
				duplicateNodesTotal.Inc()
				continue
			}
			state.seen[node.ID] = struct{}{}
			repoRows = append(repoRows, buildRepoRow(node))
			snapshotRows = append(snapshotRows, store.SnapshotRow{
				NodeID:         node.ID,
				SnapshotDate:   state.today,
				StargazerCount: node.StargazerCount,
			})
		}

		if err := c.store.UpsertPage(ctx, repoRows, snapshotRows); err != nil {
			return persisted, duplicates, fmt.Errorf("persist page: %w", err)
		}
		persisted += len(repoRows)
		reposPersistedTotal.Add(float64(len(repoRows)))

		if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor == nil {
			break
		}
		cursor = page.PageInfo.EndCursor
		page = nil
	}
	return persisted, duplicates, nil
}

func buildRepoRow(node *github.Repository) store.RepoRow {
	raw, err := json.Marshal(node)
	if err != nil {
		raw = []byte("{}")
	}
	return store.RepoRow{
		NodeID:          node.ID,
		NameWithOwner:   node.NameWithOwner,
		OwnerLogin:      node.OwnerLogin(),
		Name:            node.Name,
		URL:             node.URL,
		IsFork:          node.IsFork,
		IsArchived:      node.IsArchived,
		IsPrivate:       node.IsPrivate,
		DefaultBranch:   node.DefaultBranch(),
		PrimaryLanguage: node.LanguageName(),
		StargazerCount:  node.StargazerCount,
		CreatedAt:       node.CreatedAt,
		UpdatedAt:       node.UpdatedAt,
		PushedAt:        node.PushedAt,
		RawPayload:      raw,
	}
}

func (c *Crawler) logProgress(state *runState) {
	if c.cfg.LogEveryNPartitions <= 0 {
		return
	}
	if state.stats.PartitionsProcessed%c.cfg.LogEveryNPartitions != 0 {
		return
	}
	c.logger.Info("Crawl progress",
		zap.Int("partitions_processed", state.stats.PartitionsProcessed),
		zap.Int("repos_persisted", state.stats.ReposPersisted),
		zap.Int("target_repos", c.cfg.TargetRepoCount),
		zap.Int("queue_depth", state.queue.Len()),
	)
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
