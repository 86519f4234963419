// Package observability bundles the Prometheus collectors and serves them
// together with a health probe.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Datastore *metrics.DatastoreMetrics
	Review    *metrics.ReviewMetrics
	Fishnet   *metrics.FishnetMetrics
	Assets    *metrics.AssetMetrics
	Events    *metrics.EventMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Datastore metrics: %w", err)
	}

	reviewMetrics, err := metrics.NewReviewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Review metrics: %w", err)
	}

	fishnetMetrics, err := metrics.NewFishnetMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Fishnet metrics: %w", err)
	}

	assetMetrics, err := metrics.NewAssetMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Asset metrics: %w", err)
	}

	eventMetrics, err := metrics.NewEventMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Event metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Datastore: datastoreMetrics,
		Review:    reviewMetrics,
		Fishnet:   fishnetMetrics,
		Assets:    assetMetrics,
		Events:    eventMetrics,
	}, nil
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
