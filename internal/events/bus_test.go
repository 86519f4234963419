package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func quietLogger() logger.Logger {
	return logger.NewWriterLogger(&strings.Builder{}, logger.LogLevelError)
}

func event(vendor string) SourceImageRegistered {
	return SourceImageRegistered{
		VendorID:     vendor,
		ProjectID:    1,
		EPSG:         32619,
		Source:       SourceFishnet,
		Cells:        12,
		RegisteredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// blockingPublisher holds each publish until released.
type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingPublisher) Name() string { return "blocking" }
func (b *blockingPublisher) Close() error { return nil }
func (b *blockingPublisher) PublishSourceImage(ctx context.Context, _ SourceImageRegistered) error {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestBusDeliversToPublishers(t *testing.T) {
	t.Parallel()
	bus := NewBus(Config{Workers: 2}, WithLogger(quietLogger()))
	rec := NewRecorder()
	require.NoError(t, bus.Register(rec))
	require.Error(t, bus.Register(NewRecorder()), "duplicate publisher name")

	ctx := context.Background()
	for _, v := range []string{"104001", "104002", "104003"} {
		require.NoError(t, bus.PublishSourceImage(ctx, event(v)))
	}
	require.NoError(t, bus.Shutdown(5*time.Second))

	var vendors []string
	for _, e := range rec.Events() {
		vendors = append(vendors, e.VendorID)
	}
	assert.ElementsMatch(t, []string{"104001", "104002", "104003"}, vendors)

	stats := bus.Stats()
	assert.Equal(t, uint64(3), stats.EventsReceived)
	assert.Equal(t, uint64(3), stats.EventsProcessed)
}

func TestBusSuppressesDuplicates(t *testing.T) {
	t.Parallel()
	bus := NewBus(Config{Workers: 1}, WithLogger(quietLogger()))
	rec := NewRecorder()
	require.NoError(t, bus.Register(rec))

	ctx := context.Background()
	require.NoError(t, bus.PublishSourceImage(ctx, event("104001")))
	require.NoError(t, bus.PublishSourceImage(ctx, event("104001")))
	imported := event("104001")
	imported.Source = SourceImport
	require.NoError(t, bus.PublishSourceImage(ctx, imported))
	require.NoError(t, bus.Shutdown(5*time.Second))

	assert.Len(t, rec.Events(), 2, "same image from another source is a new event")
	assert.Equal(t, uint64(1), bus.Stats().EventsSuppressed)
}

func TestBusDedupWindowDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		window     time.Duration
		delivered  int
		suppressed uint64
	}{
		{"zero uses default window", 0, 1, 2},
		{"negative disables", -1, 3, 0},
		{"explicit window", time.Minute, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus := NewBus(Config{Workers: 1, DedupWindow: tt.window}, WithLogger(quietLogger()))
			rec := NewRecorder()
			require.NoError(t, bus.Register(rec))

			for range 3 {
				require.NoError(t, bus.PublishSourceImage(context.Background(), event("104001")))
			}
			require.NoError(t, bus.Shutdown(5*time.Second))

			assert.Len(t, rec.Events(), tt.delivered)
			assert.Equal(t, tt.suppressed, bus.Stats().EventsSuppressed)
		})
	}
}

func TestBusRecordsPublishErrors(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := metrics.NewEventMetrics(registry)
	require.NoError(t, err)

	bus := NewBus(Config{Workers: 1}, WithLogger(quietLogger()), WithMetrics(m))
	rec := NewRecorder()
	rec.FailWith(fmt.Errorf("broker unavailable"))
	require.NoError(t, bus.Register(rec))

	require.NoError(t, bus.PublishSourceImage(context.Background(), event("104001")))
	require.NoError(t, bus.Shutdown(5*time.Second))

	assert.Empty(t, rec.Events())
	assert.Equal(t, uint64(1), bus.Stats().PublisherErrors)

	expected := `
# HELP events_publish_errors_total Total number of event publication failures
# TYPE events_publish_errors_total counter
events_publish_errors_total{backend="memory",error_type="delivery"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "events_publish_errors_total"))
}

func TestBusFullBufferDropsEvent(t *testing.T) {
	t.Parallel()
	bus := NewBus(Config{Workers: 1, BufferSize: 1}, WithLogger(quietLogger()))
	pub := &blockingPublisher{started: make(chan struct{}, 3), release: make(chan struct{})}
	require.NoError(t, bus.Register(pub))

	ctx := context.Background()
	require.NoError(t, bus.PublishSourceImage(ctx, event("104001")))
	<-pub.started

	require.NoError(t, bus.PublishSourceImage(ctx, event("104002")))
	err := bus.PublishSourceImage(ctx, event("104003"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMessaging))
	assert.Equal(t, uint64(1), bus.Stats().EventsDropped)

	close(pub.release)
	require.NoError(t, bus.Shutdown(5*time.Second))
	assert.Equal(t, uint64(2), bus.Stats().EventsProcessed)
}

func TestBusRejectsAfterShutdown(t *testing.T) {
	t.Parallel()
	bus := NewBus(Config{}, WithLogger(quietLogger()))
	require.NoError(t, bus.Register(NewRecorder()))
	require.NoError(t, bus.Shutdown(time.Second))
	require.NoError(t, bus.Shutdown(time.Second), "second shutdown is a no-op")

	err := bus.PublishSourceImage(context.Background(), event("104001"))
	require.Error(t, err)
}

func TestDeduplicatorWindow(t *testing.T) {
	t.Parallel()
	var disabled *Deduplicator
	assert.True(t, disabled.ShouldProcess(event("104001")))
	assert.Nil(t, NewDeduplicator(0))

	d := NewDeduplicator(50 * time.Millisecond)
	assert.True(t, d.ShouldProcess(event("104001")))
	assert.False(t, d.ShouldProcess(event("104001")))
	assert.True(t, d.ShouldProcess(event("104002")))

	require.Eventually(t, func() bool {
		return d.ShouldProcess(event("104001"))
	}, time.Second, 10*time.Millisecond)

	seen, suppressed := d.Stats()
	assert.GreaterOrEqual(t, seen, uint64(4))
	assert.GreaterOrEqual(t, suppressed, uint64(1))
}

func TestSourceImagePayload(t *testing.T) {
	t.Parallel()
	payload, err := event("104001").Payload()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "104001", decoded["vendor_id"])
	assert.Equal(t, "fishnet", decoded["source"])
	assert.InDelta(t, 32619, decoded["epsg"], 0)
	assert.NotContains(t, decoded, "points", "zero counts are omitted")
}

func TestNewFromSettings(t *testing.T) {
	t.Parallel()
	bus, err := NewFromSettings(&conf.EventSettings{Backend: "none"}, nil, quietLogger())
	require.NoError(t, err)
	require.NoError(t, bus.PublishSourceImage(context.Background(), event("104001")))
	require.NoError(t, bus.Shutdown(time.Second))

	_, err = NewFromSettings(&conf.EventSettings{Backend: "amqp"}, nil, quietLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewFromSettings(&conf.EventSettings{Backend: "mqtt"}, nil, quietLogger())
	require.Error(t, err, "broker required")

	_, err = NewFromSettings(&conf.EventSettings{Backend: "kafka"}, nil, quietLogger())
	require.Error(t, err, "brokers required")
}

func TestMQTTPublisherRejectsBadBroker(t *testing.T) {
	t.Parallel()
	p, err := NewMQTTPublisher(conf.MQTTSettings{Broker: "://bad"}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "mqtt", p.Name())

	err = p.PublishSourceImage(context.Background(), event("104001"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMessaging))
	require.NoError(t, p.Close())
}
