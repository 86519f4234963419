package events

import (
	"strings"
	"time"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// NewFromSettings returns a bus with the configured broker publisher
// registered. With backend "none" the bus has no publishers and drops
// events.
func NewFromSettings(settings *conf.EventSettings, m *metrics.EventMetrics, log logger.Logger) (*Bus, error) {
	if log == nil {
		log = logger.Global().Module("events")
	}

	var (
		p   Publisher
		err error
	)
	switch strings.ToLower(settings.Backend) {
	case "", "none":
	case "mqtt":
		p, err = NewMQTTPublisher(settings.MQTT, log)
	case "kafka":
		p, err = NewKafkaPublisher(settings.Kafka, log)
	default:
		err = errors.Newf("unsupported event backend %q", settings.Backend).
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	bus := NewBus(DefaultConfig(), WithMetrics(m), WithLogger(log))
	if p != nil {
		if err := bus.Register(p); err != nil {
			_ = bus.Shutdown(time.Second)
			return nil, err
		}
	}
	return bus, nil
}
