package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

func TestEndpointServesMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Review.RecordConsensusOutcome("consensus")

	ep := NewEndpoint("127.0.0.1:0", m, nil, logger.NewWriterLogger(io.Discard, logger.LogLevelError))

	rec := httptest.NewRecorder()
	ep.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `review_consensus_outcomes_total{outcome="consensus"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestEndpointHealth(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	checks := map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"assets":   func(context.Context) error { return errors.New("listing failed") },
	}
	ep := NewEndpoint("127.0.0.1:0", m, checks, logger.NewWriterLogger(io.Discard, logger.LogLevelError))

	rec := httptest.NewRecorder()
	ep.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "listing failed", body.Checks["assets"])
}

func TestMetricsBundleRegistersAll(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Fishnet.RecordPartition("hexagon", 3, 0.001)
	m.Datastore.RecordLockContention(metrics.LabelCell)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fishnet_cells_total"])
	assert.True(t, names["datastore_lock_contention_total"])
}
