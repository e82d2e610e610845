package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cytomind/gateway/internal/cache"
	"github.com/cytomind/gateway/internal/inference"
	"github.com/cytomind/gateway/internal/store"
	"github.com/cytomind/gateway/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error { return s.pingErr }
func (s *testStore) UpsertPatient(_ context.Context, p *models.Patient) (*models.Patient, error) {
	return p, nil
}
func (s *testStore) GetPatient(_ context.Context, _ string) (*models.Patient, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) CreateJob(_ context.Context, _ *models.Job) error { return nil }
func (s *testStore) GetJob(_ context.Context, _ uuid.UUID, _ string) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) ListJobs(_ context.Context, _ store.JobFilter) ([]*models.Job, int, error) {
	return nil, 0, nil
}
func (s *testStore) UpdateJob(_ context.Context, _ uuid.UUID, _ string, _ ...store.JobUpdateOption) (*models.Job, error) {
	return nil, store.ErrNotFound
}

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Ping(_ context.Context) error                                      { return c.pingErr }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

// ─── mock inference ──────────────────────────────────────────────────────────

type testInference struct {
	readyErr error
}

func (i *testInference) Analyze(_ context.Context, _ inference.AnalyzeRequest) (*inference.AnalyzeResponse, error) {
	return &inference.AnalyzeResponse{}, nil
}
func (i *testInference) FetchReport(_ context.Context, _ uuid.UUID) (*inference.Report, error) {
	return nil, inference.ErrUnreachable
}
func (i *testInference) Ready(_ context.Context) error { return i.readyErr }

var _ inference.Client = (*testInference)(nil)

// ─── health handler tests ───────────────────────────────────────────────────

func serveHealth(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthHandler_AllOK(t *testing.T) {
	w, body := serveHealth(t, healthHandler(&testStore{}, &testCache{}, &testInference{}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
	assert.Equal(t, "ok", services["inference"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	w, body := serveHealth(t, healthHandler(
		&testStore{pingErr: errors.New("connection refused")}, &testCache{}, &testInference{}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "DEGRADED", body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	w, _ := serveHealth(t, healthHandler(
		&testStore{}, &testCache{pingErr: errors.New("redis down")}, &testInference{}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_InferenceDownStillServes(t *testing.T) {
	w, body := serveHealth(t, healthHandler(
		&testStore{}, &testCache{}, &testInference{readyErr: inference.ErrUnreachable}))

	assert.Equal(t, http.StatusOK, w.Code)
	services := body["services"].(map[string]any)
	assert.Equal(t, "degraded", services["inference"])
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "INFERENCE_BASE_URL", "JWT_SECRET",
	} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("INFERENCE_BASE_URL", "http://localhost:8000")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
