// Package github implements the GraphQL search client used by the crawler.
// The client owns request pacing, retry policy, and rate-limit-aware backoff;
// it knows nothing about partitions or persistence.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultEndpoint = "https://api.github.com/graphql"

// maxSleep bounds every computed or header-derived wait. A reset timestamp in
// the far future must not park the crawler for days.
const maxSleep = time.Hour

// searchQuery is the single query template the crawler uses. The rateLimit
// block rides along on every call so the client can throttle proactively.
const searchQuery = `
query SearchRepositories($query: String!, $first: Int!, $after: String) {
  rateLimit {
    limit
    cost
    remaining
    resetAt
  }
  search(query: $query, type: REPOSITORY, first: $first, after: $after) {
    repositoryCount
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      ... on Repository {
        id
        nameWithOwner
        name
        url
        isFork
        isArchived
        isPrivate
        stargazerCount
        createdAt
        updatedAt
        pushedAt
        owner {
          login
        }
        primaryLanguage {
          name
        }
        defaultBranchRef {
          name
        }
      }
    }
  }
}
`

// Config controls Client behavior.
type Config struct {
	Token              string
	Endpoint           string
	MaxRetries         int
	BaseBackoff        time.Duration
	RequestTimeout     time.Duration
	MinRemainingPoints int
	MinRequestInterval time.Duration
}

// Client executes search queries against the GitHub GraphQL API with pacing,
// retries, and rate-limit compliance. All calls through one Client share a
// single pacing limiter, so the credential's rate budget stays global no
// matter how many goroutines call Search.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// Seams for tests; production uses the real clock and timer sleeps.
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64

	requestCount    atomic.Int64
	successfulCount atomic.Int64
}

// NewClient constructs a Client. Zero-valued knobs fall back to safe
// minimums so a partially filled Config cannot disable retries entirely.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 40 * time.Second
	}

	pacing := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinRequestInterval > 0 {
		pacing = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    pacing,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepWithContext,
		randFloat:  rand.Float64,
	}
}

// RequestCount returns the number of HTTP requests dispatched so far.
func (c *Client) RequestCount() int64 {
	return c.requestCount.Load()
}

// SuccessfulQueryCount returns the number of queries that returned usable data.
func (c *Client) SuccessfulQueryCount() int64 {
	return c.successfulCount.Load()
}

// Search runs one page of the repository search query. A nil cursor requests
// the first page.
func (c *Client) Search(ctx context.Context, queryText string, pageSize int, cursor *string) (SearchResult, error) {
	variables := map[string]any{
		"query": queryText,
		"first": pageSize,
		"after": cursor,
	}
	data, err := c.execute(ctx, variables)
	if err != nil {
		return SearchResult{}, err
	}
	return data.Search, nil
}

// execute drives the bounded retry state machine: pacing, transport, status
// classification, payload decoding, application-level error classification,
// and proactive throttling, in that order, for up to MaxRetries attempts.
func (c *Client) execute(ctx context.Context, variables map[string]any) (*responseData, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("github: pacing wait: %w", err)
		}

		c.requestCount.Add(1)
		requestsTotal.Inc()

		status, header, body, err := c.post(ctx, variables)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("github: request aborted: %w", err)
			}
			lastErr = err
			if err := c.retryAfter(ctx, c.computeBackoff(attempt), "network_error"); err != nil {
				return nil, err
			}
			continue
		}

		if isRetryableStatus(status) {
			lastErr = &HTTPError{StatusCode: status, Body: truncateBody(body)}
			wait, ok := c.waitFromHeaders(header)
			if !ok {
				wait = c.computeBackoff(attempt)
			}
			if err := c.retryAfter(ctx, wait, "http_"+strconv.Itoa(status)); err != nil {
				return nil, err
			}
			continue
		}
		if status >= 400 {
			return nil, &HTTPError{StatusCode: status, Body: truncateBody(body)}
		}

		var envelope responseEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			lastErr = fmt.Errorf("github: decode response: %w", err)
			if err := c.retryAfter(ctx, c.computeBackoff(attempt), "invalid_json"); err != nil {
				return nil, err
			}
			continue
		}

		data := envelope.Data
		if data == nil {
			data = &responseData{}
		}
		if data.RateLimit != nil {
			rateBudgetRemaining.Set(float64(data.RateLimit.Remaining))
		}

		if len(envelope.Errors) > 0 {
			gqlErr := &GraphQLError{Errors: envelope.Errors}
			if !errorsAreRetryable(envelope.Errors) {
				return nil, gqlErr
			}
			lastErr = gqlErr
			// Prefer the embedded rate-limit reset over headers over
			// computed backoff.
			wait, ok := c.waitFromRateLimit(data.RateLimit)
			if !ok {
				wait, ok = c.waitFromHeaders(header)
			}
			if !ok {
				wait = c.computeBackoff(attempt)
			}
			if err := c.retryAfter(ctx, wait, "graphql_retryable_error"); err != nil {
				return nil, err
			}
			continue
		}

		if err := c.throttleIfBudgetLow(ctx, data.RateLimit); err != nil {
			return nil, err
		}

		c.successfulCount.Add(1)
		queriesTotal.Inc()
		return data, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, c.cfg.MaxRetries, lastErr)
}

// post issues one HTTP request and reads the full body. The per-request
// timeout is layered on top of the caller's context.
func (c *Client) post(ctx context.Context, variables map[string]any) (int, http.Header, []byte, error) {
	payload, err := json.Marshal(requestPayload{Query: searchQuery, Variables: variables})
	if err != nil {
		return 0, nil, nil, fmt.Errorf("github: encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("github: send request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("github: read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// computeBackoff returns the exponential wait for a 1-indexed attempt:
// min(base * 2^(attempt-1) + jitter, maxSleep). The cap is applied while the
// delay is still a float; converting an out-of-range float to a Duration
// would wrap negative for deep attempts.
func (c *Client) computeBackoff(attempt int) time.Duration {
	delay := float64(c.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1))
	if delay >= float64(maxSleep) {
		return maxSleep
	}
	wait := time.Duration(delay) + c.jitter(200*time.Millisecond, 800*time.Millisecond)
	if wait > maxSleep {
		return maxSleep
	}
	return wait
}

// jitter draws a uniform duration from [lo, hi). Every wait the client
// computes carries jitter so concurrent callers cannot synchronize.
func (c *Client) jitter(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(c.randFloat()*float64(hi-lo))
}

// waitFromHeaders derives a wait from Retry-After seconds or the
// X-RateLimit-Reset epoch, in that order.
func (c *Client) waitFromHeaders(header http.Header) (time.Duration, bool) {
	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		secs, err := strconv.ParseFloat(retryAfter, 64)
		if err != nil {
			return 0, false
		}
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs*float64(time.Second)) + c.jitter(200*time.Millisecond, time.Second), true
	}

	resetEpoch := header.Get("X-RateLimit-Reset")
	if resetEpoch == "" {
		return 0, false
	}
	epoch, err := strconv.ParseFloat(resetEpoch, 64)
	if err != nil {
		return 0, false
	}
	until := time.Unix(int64(epoch), 0).Sub(c.now())
	if until < 0 {
		until = 0
	}
	return until + c.jitter(200*time.Millisecond, time.Second), true
}

// waitFromRateLimit derives a wait from the embedded rateLimit block's reset
// timestamp.
func (c *Client) waitFromRateLimit(rl *RateLimit) (time.Duration, bool) {
	if rl == nil || rl.ResetAt.IsZero() {
		return 0, false
	}
	until := rl.ResetAt.Sub(c.now())
	if until < 0 {
		until = 0
	}
	return until + c.jitter(200*time.Millisecond, time.Second), true
}

// throttleIfBudgetLow spends idle time now, after a success, when the
// remaining point budget is at or below the configured floor. Failing the
// next call outright would cost far more than sleeping to the reset.
func (c *Client) throttleIfBudgetLow(ctx context.Context, rl *RateLimit) error {
	if rl == nil || rl.Remaining > c.cfg.MinRemainingPoints {
		return nil
	}
	wait, ok := c.waitFromRateLimit(rl)
	if !ok {
		return nil
	}
	return c.pause(ctx, wait, "low_rate_budget")
}

// retryAfter records the retry and sleeps before the next attempt.
func (c *Client) retryAfter(ctx context.Context, wait time.Duration, reason string) error {
	retriesTotal.WithLabelValues(reason).Inc()
	return c.pause(ctx, wait, reason)
}

// pause sleeps for the bounded wait, honoring context cancellation at the
// sleep boundary.
func (c *Client) pause(ctx context.Context, wait time.Duration, reason string) error {
	if wait > maxSleep {
		wait = maxSleep
	}
	if wait <= 0 {
		return nil
	}
	sleepSeconds.WithLabelValues(reason).Observe(wait.Seconds())
	c.logger.Info("Client sleeping",
		zap.Duration("wait", wait),
		zap.String("reason", reason),
	)
	if err := c.sleep(ctx, wait); err != nil {
		return fmt.Errorf("github: sleep interrupted: %w", err)
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncateBody keeps error payloads log-sized.
func truncateBody(body []byte) string {
	const limit = 2048
	if len(body) > limit {
		return string(body[:limit]) + "...(truncated)"
	}
	return string(body)
}
