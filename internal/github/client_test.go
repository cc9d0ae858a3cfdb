package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const emptySearchBody = `{
	"data": {
		"rateLimit": {"limit": 5000, "cost": 1, "remaining": 4999, "resetAt": "2030-01-01T00:00:00Z"},
		"search": {"repositoryCount": 0, "pageInfo": {"hasNextPage": false, "endCursor": null}, "nodes": []}
	}
}`

// sleepRecorder captures every client sleep instead of waiting it out.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

func newTestClient(t *testing.T, endpoint string, mutate func(*Config)) (*Client, *sleepRecorder) {
	t.Helper()
	cfg := Config{
		Token:              "test-token",
		Endpoint:           endpoint,
		MaxRetries:         4,
		BaseBackoff:        100 * time.Millisecond,
		RequestTimeout:     5 * time.Second,
		MinRemainingPoints: 0,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := NewClient(cfg, zap.NewNop())
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	c.randFloat = func() float64 { return 0.5 }
	return c, rec
}

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"data": {
				"rateLimit": {"limit": 5000, "cost": 1, "remaining": 4999, "resetAt": "2030-01-01T00:00:00Z"},
				"search": {
					"repositoryCount": 2,
					"pageInfo": {"hasNextPage": true, "endCursor": "CURSOR1"},
					"nodes": [
						{
							"id": "R_1", "nameWithOwner": "a/one", "name": "one",
							"url": "https://github.com/a/one",
							"isFork": false, "isArchived": false, "isPrivate": false,
							"stargazerCount": 10,
							"createdAt": "2020-01-01T00:00:00Z",
							"updatedAt": "2024-01-01T00:00:00Z",
							"pushedAt": null,
							"owner": {"login": "a"},
							"primaryLanguage": null,
							"defaultBranchRef": {"name": "main"}
						}
					]
				}
			}
		}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)
	result, err := c.Search(context.Background(), "stars:1..10", 50, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RepositoryCount)
	require.True(t, result.PageInfo.HasNextPage)
	require.NotNil(t, result.PageInfo.EndCursor)
	assert.Equal(t, "CURSOR1", *result.PageInfo.EndCursor)
	require.Len(t, result.Nodes, 1)

	node := result.Nodes[0]
	assert.Equal(t, "R_1", node.ID)
	assert.Equal(t, "a", node.OwnerLogin())
	assert.Nil(t, node.LanguageName())
	require.NotNil(t, node.DefaultBranch())
	assert.Equal(t, "main", *node.DefaultBranch())
	assert.Nil(t, node.PushedAt)

	assert.Equal(t, int64(1), c.RequestCount())
	assert.Equal(t, int64(1), c.SuccessfulQueryCount())
}

func TestSearch_RetriesServerErrorThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, emptySearchBody)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)
	_, err := c.Search(context.Background(), "stars:0..0", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.RequestCount())
	assert.Len(t, rec.recorded(), 2)
}

func TestSearch_RetryAfterHeaderWins(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, emptySearchBody)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)
	_, err := c.Search(context.Background(), "stars:0..0", 1, nil)
	require.NoError(t, err)

	sleeps := rec.recorded()
	require.Len(t, sleeps, 1)
	// 7s from the header plus jitter in [200ms, 1s).
	assert.GreaterOrEqual(t, sleeps[0], 7*time.Second)
	assert.Less(t, sleeps[0], 8*time.Second+time.Second)
}

func TestSearch_FatalStatusAbortsImmediately(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "query too long"}`)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)
	_, err := c.Search(context.Background(), "stars:0..0", 1, nil)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnprocessableEntity, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "query too long")
	assert.Equal(t, int64(1), c.RequestCount(), "no retries for fatal statuses")
	assert.Empty(t, rec.recorded())
}

func TestSearch_MalformedBodyIsRetryable(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			fmt.Fprint(w, `{"data": {`)
			return
		}
		fmt.Fprint(w, emptySearchBody)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)
	_, err := c.Search(context.Background(), "stars:0..0", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.RequestCount())
}

func TestSearch_RetryableGraphQLErrorUsesResetAt(t *testing.T) {
	t.Parallel()

	resetAt := time.Now().UTC().Add(30 * time.Second).Format(time.RFC3339)
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			fmt.Fprintf(w, `{
				"data": {"rateLimit": {"limit": 5000, "cost": 1, "remaining": 0, "resetAt": %q}},
				"errors": [{"type": "RATE_LIMITED", "message": "API rate limit exceeded"}]
			}`, resetAt)
			return
		}
		fmt.Fprint(w, emptySearchBody)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)
	_, err := c.Search(context.Background(), "stars:0..0", 1, nil)
	require.NoError(t, err)

	sleeps := rec.recorded()
	require.Len(t, sleeps, 1)
	// Close to the 30s reset horizon, never the 100ms computed backoff.
	assert.Greater(t, sleeps[0], 20*time.Second)
}

func TestSearch_FatalGraphQLErrorAborts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"data": null,
			"errors": [{"type": "INSUFFICIENT_SCOPES", "message": "token is missing scopes"}]
		}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)
	_, err := c.Search(context.Background(), "stars:0..0", 1, nil)

	var gqlErr *GraphQLError
	require.ErrorAs(t, err, &gqlErr)
	assert.Contains(t, gqlErr.Error(), "INSUFFICIENT_SCOPES")
	assert.Equal(t, int64(1), c.RequestCount())
}

func TestSearch_RetriesExhausted(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, func(cfg *Config) { cfg.MaxRetries = 3 })
	_, err := c.Search(context.Background(), "stars:0..0", 1, nil)

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int64(3), c.RequestCount())
	assert.Len(t, rec.recorded(), 3)
}

func TestSearch_ProactiveThrottleOnLowBudget(t *testing.T) {
	t.Parallel()

	resetAt := time.Now().UTC().Add(10 * time.Second).Format(time.RFC3339)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{
			"data": {
				"rateLimit": {"limit": 5000, "cost": 1, "remaining": 50, "resetAt": %q},
				"search": {"repositoryCount": 0, "pageInfo": {"hasNextPage": false, "endCursor": null}, "nodes": []}
			}
		}`, resetAt)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, func(cfg *Config) { cfg.MinRemainingPoints = 100 })
	_, err := c.Search(context.Background(), "stars:0..0", 1, nil)
	require.NoError(t, err)

	sleeps := rec.recorded()
	require.Len(t, sleeps, 1, "success should still throttle when budget is low")
	assert.Greater(t, sleeps[0], 5*time.Second)
}

func TestSearch_PacingEnforcesMinInterval(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var starts []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		fmt.Fprint(w, emptySearchBody)
	}))
	defer server.Close()

	const interval = 60 * time.Millisecond
	c, _ := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.MinRequestInterval = interval
	})
	// Recreate the limiter since newTestClient built the client before the
	// interval override took effect on it.
	c = NewClient(c.cfg, zap.NewNop())

	ctx := context.Background()
	for range 3 {
		_, err := c.Search(ctx, "stars:0..0", 1, nil)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		// Allow a small scheduling tolerance below the configured interval.
		assert.GreaterOrEqual(t, gap, interval-10*time.Millisecond,
			"requests %d and %d too close together", i-1, i)
	}
}

func TestSearch_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Search(ctx, "stars:0..0", 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || ctx.Err() != nil)
	assert.Equal(t, int64(1), c.RequestCount(), "cancellation stops the retry chain")
}

func TestComputeBackoff_MonotoneAndCapped(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, "http://unused.invalid", func(cfg *Config) {
		cfg.BaseBackoff = time.Second
	})

	var prev time.Duration
	for attempt := 1; attempt <= 100; attempt++ {
		wait := c.computeBackoff(attempt)
		assert.Positive(t, wait, "attempt %d", attempt)
		assert.GreaterOrEqual(t, wait, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, wait, maxSleep)
		prev = wait
	}
	// Deep attempts saturate at the cap, including attempts whose raw
	// exponential delay no longer fits in an int64 of nanoseconds.
	assert.Equal(t, maxSleep, c.computeBackoff(30))
	assert.Equal(t, maxSleep, c.computeBackoff(64))
	assert.Equal(t, maxSleep, c.computeBackoff(500))
}

func TestErrorsAreRetryable_Heuristics(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		errs []graphQLError
		want bool
	}{
		{"rate limit message", []graphQLError{{Message: "API rate limit exceeded for user"}}, true},
		{"secondary rate limit", []graphQLError{{Message: "You have exceeded a secondary rate limit"}}, true},
		{"abuse detection", []graphQLError{{Message: "abuse detection mechanism triggered"}}, true},
		{"timeout", []graphQLError{{Message: "Something went wrong: timeout"}}, true},
		{"typed rate limited", []graphQLError{{Type: "RATE_LIMITED", Message: "nope"}}, true},
		{"typed service unavailable", []graphQLError{{Type: "service_unavailable", Message: "nope"}}, true},
		{"plain failure", []graphQLError{{Type: "NOT_FOUND", Message: "could not resolve"}}, false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, errorsAreRetryable(tc.errs))
		})
	}
}
