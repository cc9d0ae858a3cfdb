package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-star-crawler/internal/store"
)

type fakeRunLister struct {
	runs    []store.RunRecord
	listErr error
	pingErr error

	lastLimit int
}

func (f *fakeRunLister) ListRuns(_ context.Context, limit int) ([]store.RunRecord, error) {
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.runs, nil
}

func (f *fakeRunLister) Ping(context.Context) error {
	return f.pingErr
}

func newTestServer(runs *fakeRunLister) *Server {
	return NewServer(runs, zap.NewNop())
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunLister{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz_DatabaseDown(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunLister{pingErr: errors.New("connection refused")})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database unreachable")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunLister{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_ListRuns(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	started := time.Date(2026, time.August, 23, 10, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Hour)
	errMsg := "github: retry attempts exhausted"

	lister := &fakeRunLister{runs: []store.RunRecord{
		{
			ID:                  runID,
			StartedAt:           started,
			FinishedAt:          &finished,
			Status:              store.RunFailed,
			TargetRepoCount:     100_000,
			RepoCount:           42_000,
			PartitionCount:      310,
			SplitPartitionCount: 95,
			Metadata:            []byte(`{"max_star_count":450000}`),
			ErrorMessage:        &errMsg,
		},
	}}
	server := newTestServer(lister)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=5", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, lister.lastLimit)

	var payload struct {
		Runs []runResponse `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Runs, 1)
	assert.Equal(t, runID.String(), payload.Runs[0].RunID)
	assert.Equal(t, "failed", payload.Runs[0].Status)
	assert.Equal(t, 42_000, payload.Runs[0].RepoCount)
	require.NotNil(t, payload.Runs[0].ErrorMessage)
	assert.Equal(t, errMsg, *payload.Runs[0].ErrorMessage)
	assert.JSONEq(t, `{"max_star_count":450000}`, string(payload.Runs[0].Metadata))
}

func TestServer_ListRuns_DefaultLimit(t *testing.T) {
	t.Parallel()

	lister := &fakeRunLister{}
	server := newTestServer(lister)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, lister.lastLimit)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestServer_ListRuns_InvalidLimit(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunLister{})

	for _, limit := range []string{"0", "-3", "9999", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit="+limit, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestServer_ListRuns_StoreError(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunLister{listErr: errors.New("boom")})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to list runs")
}
