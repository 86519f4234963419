package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics contains metrics for source image event publication.
type EventMetrics struct {
	registry *prometheus.Registry

	publishedTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewEventMetrics creates and registers event metrics.
func NewEventMetrics(registry *prometheus.Registry) (*EventMetrics, error) {
	m := &EventMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EventMetrics) initMetrics() error {
	m.publishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published",
		},
		[]string{"backend"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_publish_errors_total",
			Help: "Total number of event publication failures",
		},
		[]string{"backend", "error_type"},
	)

	m.publishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "events_publish_duration_seconds",
			Help:    "Time taken to publish an event",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"backend"},
	)

	m.collectors = []prometheus.Collector{
		m.publishedTotal,
		m.errorsTotal,
		m.publishDuration,
	}
	return nil
}

// Describe implements the Collector interface
func (m *EventMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *EventMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordPublish records a successful publication.
func (m *EventMetrics) RecordPublish(backend string, seconds float64) {
	m.publishedTotal.WithLabelValues(backend).Inc()
	m.publishDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordPublishError records a failed publication.
func (m *EventMetrics) RecordPublishError(backend, errorType string) {
	m.errorsTotal.WithLabelValues(backend, errorType).Inc()
}
