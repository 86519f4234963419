package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// Config holds bus configuration.
type Config struct {
	BufferSize     int
	Workers        int
	PublishTimeout time.Duration
	// DedupWindow of zero uses DefaultDedupWindow, negative disables it.
	DedupWindow    time.Duration
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:     1000,
		Workers:        2,
		PublishTimeout: 10 * time.Second,
		DedupWindow:    DefaultDedupWindow,
	}
}

// Bus provides asynchronous event delivery with non-blocking guarantees.
// It implements Publisher so callers need not know whether events are
// delivered inline or queued.
type Bus struct {
	eventChan chan SourceImageRegistered
	config    Config

	mu         sync.RWMutex
	publishers []Publisher
	running    bool
	wg         sync.WaitGroup

	dedup   *Deduplicator
	metrics *metrics.EventMetrics
	log     logger.Logger

	stats BusStats
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithMetrics records per-publisher delivery metrics.
func WithMetrics(m *metrics.EventMetrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) BusOption {
	return func(b *Bus) { b.log = l }
}

// NewBus starts a bus with config.Workers workers.
func NewBus(config Config, opts ...BusOption) *Bus {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.DedupWindow == 0 {
		config.DedupWindow = defaults.DedupWindow
	}

	b := &Bus{
		eventChan: make(chan SourceImageRegistered, config.BufferSize),
		config:    config,
		dedup:     NewDeduplicator(config.DedupWindow),
		running:   true,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Global().Module("events")
	}

	for i := range config.Workers {
		b.wg.Add(1)
		go b.worker(i)
	}

	b.log.Info("event bus started",
		logger.Int("buffer_size", config.BufferSize),
		logger.Int("workers", config.Workers))
	return b
}

// Register adds a publisher. Names must be unique.
func (b *Bus) Register(p Publisher) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.publishers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("publisher %s already registered", p.Name())
		}
	}
	b.publishers = append(b.publishers, p)

	b.log.Info("registered event publisher", logger.String("publisher", p.Name()))
	return nil
}

// Name implements Publisher.
func (b *Bus) Name() string { return "bus" }

// PublishSourceImage queues event without blocking. Duplicates inside the
// dedup window are dropped silently. A full buffer or a stopped bus is
// reported as an error; the event is lost.
func (b *Bus) PublishSourceImage(_ context.Context, event SourceImageRegistered) error {
	if !b.dedup.ShouldProcess(event) {
		atomic.AddUint64(&b.stats.EventsSuppressed, 1)
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.running {
		return errors.Newf("event bus stopped").
			Component("events").
			Category(errors.CategoryMessaging).
			Context("vendor_id", event.VendorID).
			Build()
	}
	if len(b.publishers) == 0 {
		return nil
	}

	select {
	case b.eventChan <- event:
		atomic.AddUint64(&b.stats.EventsReceived, 1)
		return nil
	default:
		atomic.AddUint64(&b.stats.EventsDropped, 1)
		b.log.Warn("event dropped due to full buffer",
			logger.String("vendor_id", event.VendorID),
			logger.String("source", event.Source))
		return errors.Newf("event buffer full").
			Component("events").
			Category(errors.CategoryMessaging).
			Context("vendor_id", event.VendorID).
			Build()
	}
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	log := b.log.With(logger.Int("worker_id", id))
	log.Debug("worker started")

	for event := range b.eventChan {
		b.dispatch(event, log)
	}
	log.Debug("worker stopping due to channel closure")
}

// dispatch sends the event to every registered publisher.
func (b *Bus) dispatch(event SourceImageRegistered, log logger.Logger) {
	b.mu.RLock()
	publishers := make([]Publisher, len(b.publishers))
	copy(publishers, b.publishers)
	b.mu.RUnlock()

	for _, p := range publishers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&b.stats.PublisherErrors, 1)
					log.Error("publisher panicked",
						logger.String("publisher", p.Name()),
						logger.Any("panic", r))
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), b.config.PublishTimeout)
			defer cancel()

			start := time.Now()
			err := p.PublishSourceImage(ctx, event)
			if err != nil {
				atomic.AddUint64(&b.stats.PublisherErrors, 1)
				if b.metrics != nil {
					b.metrics.RecordPublishError(p.Name(), publishErrorType(err))
				}
				log.Error("publish failed",
					logger.String("publisher", p.Name()),
					logger.String("vendor_id", event.VendorID),
					logger.Error(err))
				return
			}

			atomic.AddUint64(&b.stats.EventsProcessed, 1)
			if b.metrics != nil {
				b.metrics.RecordPublish(p.Name(), time.Since(start).Seconds())
			}
		}()
	}
}

// Shutdown stops accepting events, drains the queue and closes every
// publisher. Events still queued when timeout elapses are abandoned.
func (b *Bus) Shutdown(timeout time.Duration) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.eventChan)
	b.mu.Unlock()

	b.log.Info("shutting down event bus", logger.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		b.log.Info("event bus shutdown complete")
	case <-time.After(timeout):
		b.log.Warn("event bus shutdown timeout exceeded")
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.publishers {
		if cerr := p.Close(); cerr != nil {
			b.log.Warn("closing publisher failed",
				logger.String("publisher", p.Name()),
				logger.Error(cerr))
		}
	}
	return err
}

// Close implements Publisher.
func (b *Bus) Close() error {
	return b.Shutdown(b.config.PublishTimeout)
}

// Stats returns current bus statistics.
func (b *Bus) Stats() BusStats {
	return BusStats{
		EventsReceived:   atomic.LoadUint64(&b.stats.EventsReceived),
		EventsSuppressed: atomic.LoadUint64(&b.stats.EventsSuppressed),
		EventsProcessed:  atomic.LoadUint64(&b.stats.EventsProcessed),
		EventsDropped:    atomic.LoadUint64(&b.stats.EventsDropped),
		PublisherErrors:  atomic.LoadUint64(&b.stats.PublisherErrors),
	}
}

func publishErrorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "delivery"
	}
}
