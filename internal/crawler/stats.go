package crawler

import (
	"encoding/json"

	"github.com/JakeFAU/github-star-crawler/internal/store"
)

// Stats are the run-scoped counters for one crawl. They are owned by a single
// run and reset implicitly because every run allocates its own value.
type Stats struct {
	PartitionsProcessed int `json:"partitions_processed"`
	PartitionsSplit     int `json:"partitions_split"`
	PartitionsSkipped   int `json:"partitions_skipped"`
	ReposPersisted      int `json:"repos_persisted"`
	DuplicateRepoNodes  int `json:"duplicate_repo_nodes"`
	MaxStarCount        int `json:"max_star_count"`
}

// MetadataJSON renders the counters for the run record's metadata column.
func (s Stats) MetadataJSON() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Counters converts the stats into the store's run-counter shape.
func (s Stats) Counters() store.RunCounters {
	return store.RunCounters{
		RepoCount:           s.ReposPersisted,
		PartitionCount:      s.PartitionsProcessed,
		SplitPartitionCount: s.PartitionsSplit,
	}
}
