package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReviewMetrics contains Prometheus metrics for the assignment engine.
type ReviewMetrics struct {
	registry *prometheus.Registry

	assignmentsTotal     *prometheus.CounterVec
	assignmentDuration   *prometheus.HistogramVec
	candidatesSkipped    *prometheus.CounterVec
	submissionsTotal     *prometheus.CounterVec
	consensusOutcomes    *prometheus.CounterVec
	staleLocksReleased   *prometheus.CounterVec
	awaitingAdjudication prometheus.Gauge

	collectors []prometheus.Collector
}

// NewReviewMetrics creates and registers review metrics.
func NewReviewMetrics(registry *prometheus.Registry) (*ReviewMetrics, error) {
	m := &ReviewMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ReviewMetrics) initMetrics() error {
	m.assignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_assignments_total",
			Help: "Total number of assignment requests by entity and result",
		},
		[]string{"entity", "result"}, // result: success, empty, error
	)

	m.assignmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_assignment_duration_seconds",
			Help:    "Time taken to select and lock the next item",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~2s
		},
		[]string{"entity"},
	)

	m.candidatesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_candidates_skipped_total",
			Help: "Candidates passed over during selection",
		},
		[]string{"reason"}, // reason: not_viewable, lock_lost
	)

	m.submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_submissions_total",
			Help: "Total number of submissions by operation and result",
		},
		[]string{"operation", "result"}, // result: success, conflict, validation, error
	)

	m.consensusOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_consensus_outcomes_total",
			Help: "Consensus evaluation outcomes after each submission",
		},
		[]string{"outcome"},
	)

	m.staleLocksReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_stale_locks_released_total",
			Help: "Locks reset by the stale-lock reaper",
		},
		[]string{"entity"},
	)

	m.awaitingAdjudication = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_awaiting_adjudication",
			Help: "POIs at quorum without unanimous agreement",
		},
	)

	m.collectors = []prometheus.Collector{
		m.assignmentsTotal,
		m.assignmentDuration,
		m.candidatesSkipped,
		m.submissionsTotal,
		m.consensusOutcomes,
		m.staleLocksReleased,
		m.awaitingAdjudication,
	}
	return nil
}

// Describe implements the Collector interface
func (m *ReviewMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ReviewMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordAssignment records the result of a next-item request.
func (m *ReviewMetrics) RecordAssignment(entity, result string, seconds float64) {
	m.assignmentsTotal.WithLabelValues(entity, result).Inc()
	m.assignmentDuration.WithLabelValues(entity).Observe(seconds)
}

// RecordCandidateSkipped records a candidate passed over during selection.
func (m *ReviewMetrics) RecordCandidateSkipped(reason string) {
	m.candidatesSkipped.WithLabelValues(reason).Inc()
}

// RecordSubmission records a submission result.
func (m *ReviewMetrics) RecordSubmission(operation, result string) {
	m.submissionsTotal.WithLabelValues(operation, result).Inc()
}

// RecordConsensusOutcome records a consensus evaluation outcome.
func (m *ReviewMetrics) RecordConsensusOutcome(outcome string) {
	m.consensusOutcomes.WithLabelValues(outcome).Inc()
}

// RecordStaleLocksReleased adds to the released lock counter.
func (m *ReviewMetrics) RecordStaleLocksReleased(entity string, count int64) {
	m.staleLocksReleased.WithLabelValues(entity).Add(float64(count))
}

// SetAwaitingAdjudication sets the adjudication backlog gauge.
func (m *ReviewMetrics) SetAwaitingAdjudication(count int) {
	m.awaitingAdjudication.Set(float64(count))
}
