package events

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
)

const (
	defaultMQTTTopic      = "gaia/source-images"
	mqttConnectTimeout    = 30 * time.Second
	mqttPublishTimeout    = 10 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
)

// MQTTPublisher publishes events as JSON to an MQTT topic. It connects on
// first publish and relies on the client's auto-reconnect afterwards.
type MQTTPublisher struct {
	settings conf.MQTTSettings
	log      logger.Logger

	mu     sync.Mutex
	client paho.Client
}

// NewMQTTPublisher returns a publisher for the broker in settings.
func NewMQTTPublisher(settings conf.MQTTSettings, log logger.Logger) (*MQTTPublisher, error) {
	if settings.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Topic == "" {
		settings.Topic = defaultMQTTTopic
	}
	if settings.ClientID == "" {
		settings.ClientID = "gaia"
	}
	if settings.QoS > 2 {
		settings.QoS = 1
	}
	if log == nil {
		log = logger.Global().Module("events")
	}
	return &MQTTPublisher{settings: settings, log: log}, nil
}

// Name implements Publisher.
func (p *MQTTPublisher) Name() string { return "mqtt" }

// Connect establishes the broker connection. It first resolves the broker's
// hostname so DNS failures are reported distinctly.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked(ctx)
}

func (p *MQTTPublisher) connectLocked(ctx context.Context) error {
	if p.client != nil && p.client.IsConnected() {
		return nil
	}

	u, err := url.Parse(p.settings.Broker)
	if err != nil {
		return messagingError(fmt.Errorf("invalid broker URL: %w", err), p.Name(), "connect")
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.NetworkError(fmt.Errorf("failed to resolve hostname %s: %w", host, err), p.settings.Broker, mqttConnectTimeout)
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(p.settings.Broker)
	opts.SetClientID(p.settings.ClientID)
	opts.SetUsername(p.settings.Username)
	opts.SetPassword(p.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetOnConnectHandler(func(paho.Client) {
		p.log.Info("connected to MQTT broker", logger.String("broker", p.settings.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.log.Warn("connection to MQTT broker lost",
			logger.String("broker", p.settings.Broker),
			logger.Error(err))
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token, mqttConnectTimeout); err != nil {
		return messagingError(fmt.Errorf("connection error: %w", err), p.Name(), "connect")
	}
	p.client = client
	return nil
}

// PublishSourceImage implements Publisher.
func (p *MQTTPublisher) PublishSourceImage(ctx context.Context, event SourceImageRegistered) error {
	payload, err := event.Payload()
	if err != nil {
		return messagingError(err, p.Name(), "encode")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return err
	}

	p.log.Debug("publishing source image",
		logger.String("topic", p.settings.Topic),
		logger.String("vendor_id", event.VendorID))

	token := p.client.Publish(p.settings.Topic, p.settings.QoS, false, payload)
	if err := waitToken(ctx, token, mqttPublishTimeout); err != nil {
		return messagingError(err, p.Name(), "publish")
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(mqttDisconnectQuiesce)
	}
	p.client = nil
	return nil
}

// waitToken waits for token, the context or timeout, whichever is first.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}

func messagingError(err error, backend, operation string) error {
	return errors.New(err).
		Component("events").
		Category(errors.CategoryMessaging).
		Context("backend", backend).
		Context("operation", operation).
		Build()
}
