package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AssetMetrics tracks object store listings and the existence cache.
type AssetMetrics struct {
	registry *prometheus.Registry

	cacheOperationsTotal *prometheus.CounterVec
	listingsTotal        *prometheus.CounterVec
	listingDuration      *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewAssetMetrics creates and registers asset metrics.
func NewAssetMetrics(registry *prometheus.Registry) (*AssetMetrics, error) {
	m := &AssetMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AssetMetrics) initMetrics() error {
	m.cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assets_cache_operations_total",
			Help: "Existence cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	m.listingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assets_listings_total",
			Help: "Object store listings by backend and status",
		},
		[]string{"backend", "status"},
	)

	m.listingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assets_listing_duration_seconds",
			Help:    "Time taken to list an object store prefix",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
		[]string{"backend"},
	)

	m.collectors = []prometheus.Collector{
		m.cacheOperationsTotal,
		m.listingsTotal,
		m.listingDuration,
	}
	return nil
}

// Describe implements the Collector interface
func (m *AssetMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *AssetMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordCacheOperation records an existence cache lookup.
func (m *AssetMetrics) RecordCacheOperation(result string) {
	m.cacheOperationsTotal.WithLabelValues(result).Inc()
}

// RecordListing records an object store listing.
func (m *AssetMetrics) RecordListing(backend, status string, seconds float64) {
	m.listingsTotal.WithLabelValues(backend, status).Inc()
	m.listingDuration.WithLabelValues(backend).Observe(seconds)
}
