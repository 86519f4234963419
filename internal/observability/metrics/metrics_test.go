package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewReviewMetrics(registry)
	require.NoError(t, err)

	m.RecordAssignment(LabelPOI, LabelSuccess, 0.004)
	m.RecordAssignment(LabelPOI, LabelSuccess, 0.002)
	m.RecordAssignment(LabelCell, LabelEmpty, 0.001)
	m.RecordConsensusOutcome("consensus")
	m.RecordStaleLocksReleased(LabelPOI, 4)
	m.SetAwaitingAdjudication(2)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.assignmentsTotal.WithLabelValues(LabelPOI, LabelSuccess)), 0)
	assert.InDelta(t, 4.0, testutil.ToFloat64(m.staleLocksReleased.WithLabelValues(LabelPOI)), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.awaitingAdjudication), 0)

	expected := `
# HELP review_consensus_outcomes_total Consensus evaluation outcomes after each submission
# TYPE review_consensus_outcomes_total counter
review_consensus_outcomes_total{outcome="consensus"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "review_consensus_outcomes_total"))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewFishnetMetrics(registry)
	require.NoError(t, err)

	_, err = NewFishnetMetrics(registry)
	require.Error(t, err)
}

func TestFishnetMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewFishnetMetrics(registry)
	require.NoError(t, err)

	m.RecordPartition("rectangle", 6, 0.01)
	m.RecordPartition("rectangle", 4, 0.01)
	m.RecordRasterFailure("invalid_crs")

	assert.InDelta(t, 10.0, testutil.ToFloat64(m.cellsTotal.WithLabelValues("rectangle")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.rasterFailures.WithLabelValues("invalid_crs")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.partitionDuration))

	hist := findHistogram(t, registry, "fishnet_cells_per_raster")
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 10.0, hist.GetSampleSum(), 0)
}

// findHistogram gathers registry and returns the single histogram named name.
func findHistogram(t *testing.T, registry *prometheus.Registry, name string) *dto.Histogram {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())
		require.Len(t, mf.GetMetric(), 1)
		return mf.GetMetric()[0].GetHistogram()
	}
	require.Failf(t, "metric not gathered", "%s", name)
	return nil
}

func TestDatastoreAssetAndEventMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	ds, err := NewDatastoreMetrics(registry)
	require.NoError(t, err)
	assets, err := NewAssetMetrics(registry)
	require.NoError(t, err)
	events, err := NewEventMetrics(registry)
	require.NoError(t, err)

	ds.RecordLockContention(LabelPOI)
	ds.RecordTransaction(LabelCommitted)
	ds.UpdateConnectionMetrics(3, 1)
	assets.RecordCacheOperation(LabelHit)
	assets.RecordCacheOperation(LabelMiss)
	assets.RecordListing("local", LabelSuccess, 0.02)
	events.RecordPublish("mqtt", 0.003)
	events.RecordPublishError("kafka", "timeout")

	assert.InDelta(t, 1.0, testutil.ToFloat64(ds.lockContentionTotal.WithLabelValues(LabelPOI)), 0)
	assert.InDelta(t, 3.0, testutil.ToFloat64(ds.dbConnectionsOpenGauge), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(assets.cacheOperationsTotal.WithLabelValues(LabelHit)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(events.errorsTotal.WithLabelValues("kafka", "timeout")), 0)
}
