package github

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal tracks HTTP requests dispatched to the GraphQL endpoint.
	requestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starcrawler_github_requests_total",
		Help: "The total number of HTTP requests sent to the GitHub GraphQL API.",
	})
	// queriesTotal tracks queries that completed successfully.
	queriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starcrawler_github_queries_total",
		Help: "The total number of GraphQL queries that returned usable data.",
	})
	// retriesTotal tracks retry attempts by classified reason.
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starcrawler_github_retries_total",
		Help: "The total number of retried GraphQL attempts by reason.",
	}, []string{"reason"})
	// sleepSeconds observes every pacing, backoff, and throttle sleep.
	sleepSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starcrawler_github_sleep_seconds",
		Help:    "Duration of client sleeps by reason.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"reason"})
	// rateBudgetRemaining reports the remaining point budget from the last
	// rateLimit block seen.
	rateBudgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "starcrawler_github_rate_budget_remaining",
		Help: "Remaining GraphQL rate limit points reported by the last response.",
	})
)
