package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FishnetMetrics contains Prometheus metrics for footprint partitioning.
type FishnetMetrics struct {
	registry *prometheus.Registry

	cellsTotal        *prometheus.CounterVec
	cellsPerRaster    *prometheus.HistogramVec
	partitionDuration *prometheus.HistogramVec
	rasterFailures    *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewFishnetMetrics creates and registers fishnet metrics.
func NewFishnetMetrics(registry *prometheus.Registry) (*FishnetMetrics, error) {
	m := &FishnetMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FishnetMetrics) initMetrics() error {
	m.cellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fishnet_cells_total",
			Help: "Total number of fishnet cells produced",
		},
		[]string{"shape"},
	)

	m.cellsPerRaster = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fishnet_cells_per_raster",
			Help:    "Cells produced per raster footprint",
			Buckets: prometheus.ExponentialBuckets(BucketStart1, BucketFactor2, BucketCount16), // 1 to 32768
		},
		[]string{"shape"},
	)

	m.partitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fishnet_partition_duration_seconds",
			Help:    "Time taken to partition one footprint",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"shape"},
	)

	m.rasterFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fishnet_raster_failures_total",
			Help: "Rasters that could not be partitioned",
		},
		[]string{"reason"}, // reason: invalid_crs, empty_footprint, unreadable, other
	)

	m.collectors = []prometheus.Collector{
		m.cellsTotal,
		m.cellsPerRaster,
		m.partitionDuration,
		m.rasterFailures,
	}
	return nil
}

// Describe implements the Collector interface
func (m *FishnetMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *FishnetMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordPartition records a successful footprint partition.
func (m *FishnetMetrics) RecordPartition(shape string, cells int, seconds float64) {
	m.cellsTotal.WithLabelValues(shape).Add(float64(cells))
	m.cellsPerRaster.WithLabelValues(shape).Observe(float64(cells))
	m.partitionDuration.WithLabelValues(shape).Observe(seconds)
}

// RecordRasterFailure records a raster dropped from a batch.
func (m *FishnetMetrics) RecordRasterFailure(reason string) {
	m.rasterFailures.WithLabelValues(reason).Inc()
}
