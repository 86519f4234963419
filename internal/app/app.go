// Package app assembles the store, review engine and integrations from
// settings for the command line entry points.
package app

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/gaia-review/gaia/internal/assets"
	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/datastore"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/events"
	"github.com/gaia-review/gaia/internal/fishnet"
	"github.com/gaia-review/gaia/internal/footprint"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability"
	"github.com/gaia-review/gaia/internal/review"
)

const busShutdownTimeout = 10 * time.Second

// Services holds everything a command needs. Close releases it in reverse
// order of construction.
type Services struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics
	Store    *datastore.Store
	Engine   *review.Engine
	Bus      *events.Bus
	Checker  *assets.Checker

	log     logger.Logger
	closers []func() error
}

// New opens the configured database, migrates and seeds it, and builds the
// review engine with the asset checker and event bus attached.
func New(ctx context.Context, settings *conf.Settings) (*Services, error) {
	log := logger.Global().Module("app")

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_metrics").
			Build()
	}

	s := &Services{Settings: settings, Metrics: m, log: log}

	store, err := datastore.Open(&settings.Database,
		datastore.WithMetrics(m.Datastore),
		datastore.WithBusyRetries(settings.Review.BusyRetries),
	)
	if err != nil {
		return nil, err
	}
	s.Store = store
	s.closers = append(s.closers, store.Close)

	if err := store.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := store.Seed(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	opts := []review.Option{
		review.WithSettings(settings.Review),
		review.WithMetrics(m.Review),
	}

	checker, err := s.newChecker(&settings.Assets)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if checker != nil {
		s.Checker = checker
		opts = append(opts, review.WithChecker(checker))
	} else if settings.Review.RequireViewableAsset {
		log.Warn("no asset backend configured, points of interest are not checked for imagery")
	}

	bus, err := events.NewFromSettings(&settings.Events, m.Events, nil)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Bus = bus
	s.closers = append(s.closers, func() error { return bus.Shutdown(busShutdownTimeout) })
	opts = append(opts, review.WithPublisher(bus))

	s.Engine = review.NewEngine(store, opts...)

	log.Info("services ready",
		logger.String("database", settings.Database.Type),
		logger.String("assets", settings.Assets.Backend),
		logger.String("events", settings.Events.Backend),
		logger.Int("quorum", s.Engine.Quorum()),
		logger.Int("cell_quorum", s.Engine.CellQuorum()))
	return s, nil
}

func (s *Services) newChecker(settings *conf.AssetSettings) (*assets.Checker, error) {
	lister, err := assets.NewListerFromSettings(settings)
	if err != nil {
		return nil, err
	}
	if lister == nil {
		return nil, nil
	}
	if c, ok := lister.(io.Closer); ok {
		s.closers = append(s.closers, c.Close)
	}

	cache := assets.NewCacheFromSettings(settings)
	if c, ok := cache.(io.Closer); ok {
		s.closers = append(s.closers, c.Close)
	}

	return assets.NewChecker(lister,
		assets.WithCache(cache),
		assets.WithPrefix(settings.Prefix),
		assets.WithTTL(settings.CacheTTL),
		assets.WithMetrics(s.Metrics.Assets),
	), nil
}

// HealthChecks returns the probes served on /health.
func (s *Services) HealthChecks() map[string]observability.HealthCheck {
	return map[string]observability.HealthCheck{
		"database": s.Store.Ping,
	}
}

// Partitioner returns a partitioner using the configured footprint reader.
func (s *Services) Partitioner(reader footprint.Reader) *fishnet.Partitioner {
	return fishnet.NewPartitioner(reader,
		fishnet.WithConcurrency(s.Settings.Fishnet.Concurrency),
		fishnet.WithMetrics(s.Metrics.Fishnet),
	)
}

// Close releases all resources and returns the first error.
func (s *Services) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close failed", logger.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	s.closers = nil
	return first
}

// NewFootprintReader returns the reader named by settings.Reader.
func NewFootprintReader(settings *conf.FishnetSettings) (footprint.Reader, error) {
	switch strings.ToLower(settings.Reader) {
	case "", "gdal":
		return footprint.NewGDALReader(settings.GDAL.InfoPath, settings.GDAL.FootprintPath, settings.GDAL.Timeout, nil), nil
	case "geojson":
		return footprint.GeoJSONReader{}, nil
	default:
		return nil, errors.Newf("unsupported footprint reader %q", settings.Reader).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
