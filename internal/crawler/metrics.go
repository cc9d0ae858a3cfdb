package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// partitionsProcessedTotal counts partitions popped from the queue.
	partitionsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starcrawler_partitions_processed_total",
		Help: "The total number of partitions popped and probed.",
	})
	// partitionsSplitTotal counts partitions replaced by two children.
	partitionsSplitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starcrawler_partitions_split_total",
		Help: "The total number of partitions split into children.",
	})
	// partitionsSkippedTotal counts dropped partitions by reason.
	partitionsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starcrawler_partitions_skipped_total",
		Help: "The total number of partitions dropped without ingestion.",
	}, []string{"reason"})
	// reposPersistedTotal counts repository rows handed to the store.
	reposPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starcrawler_repos_persisted_total",
		Help: "The total number of repository rows persisted.",
	})
	// duplicateNodesTotal counts nodes already seen earlier in the same run.
	duplicateNodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starcrawler_duplicate_nodes_total",
		Help: "The total number of repository nodes deduplicated within a run.",
	})
	// queueDepth reports the pending partition count after each pop.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "starcrawler_queue_depth",
		Help: "The number of partitions currently queued.",
	})
)
