package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
)

const (
	defaultKafkaTopic = "gaia.source-images"
	kafkaFlushTimeout = 10 * time.Second
)

// KafkaPublisher produces events keyed by vendor id, waiting for the
// delivery report of each message.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	log      logger.Logger
	wg       sync.WaitGroup
}

// NewKafkaPublisher creates an idempotent producer for settings.
func NewKafkaPublisher(settings conf.KafkaSettings, log logger.Logger) (*KafkaPublisher, error) {
	if settings.Brokers == "" {
		return nil, errors.Newf("kafka brokers are required").
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Topic == "" {
		settings.Topic = defaultKafkaTopic
	}
	if log == nil {
		log = logger.Global().Module("events")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   settings.Brokers,
		"acks":                "all",
		"enable.idempotence":  true,
		"compression.type":    "snappy",
		"linger.ms":           5,
		"request.timeout.ms":  30000,
		"delivery.timeout.ms": 120000,
	})
	if err != nil {
		return nil, messagingError(err, "kafka", "create_producer")
	}

	kp := &KafkaPublisher{producer: p, topic: settings.Topic, log: log}
	kp.wg.Add(1)
	go kp.handleEvents()

	log.Info("kafka producer initialized",
		logger.String("topic", settings.Topic),
		logger.String("brokers", settings.Brokers))
	return kp, nil
}

// handleEvents drains client-level events; delivery reports arrive on the
// per-message channel instead.
func (kp *KafkaPublisher) handleEvents() {
	defer kp.wg.Done()
	for e := range kp.producer.Events() {
		if kerr, ok := e.(kafka.Error); ok {
			kp.log.Warn("kafka client error",
				logger.String("code", kerr.Code().String()),
				logger.Error(kerr))
		}
	}
}

// Name implements Publisher.
func (kp *KafkaPublisher) Name() string { return "kafka" }

// PublishSourceImage implements Publisher.
func (kp *KafkaPublisher) PublishSourceImage(ctx context.Context, event SourceImageRegistered) error {
	payload, err := event.Payload()
	if err != nil {
		return messagingError(err, kp.Name(), "encode")
	}

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kp.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.Key()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(event.Source)},
			{Key: "project_id", Value: []byte(strconv.FormatUint(uint64(event.ProjectID), 10))},
		},
	}

	delivery := make(chan kafka.Event, 1)
	if err := kp.producer.Produce(message, delivery); err != nil {
		return messagingError(err, kp.Name(), "produce")
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return messagingError(errors.NewStd("unexpected delivery report"), kp.Name(), "deliver")
		}
		if m.TopicPartition.Error != nil {
			return messagingError(m.TopicPartition.Error, kp.Name(), "deliver")
		}
		return nil
	case <-ctx.Done():
		return messagingError(ctx.Err(), kp.Name(), "deliver")
	}
}

// Close flushes pending messages and closes the producer.
func (kp *KafkaPublisher) Close() error {
	if remaining := kp.producer.Flush(int(kafkaFlushTimeout.Milliseconds())); remaining > 0 {
		kp.log.Warn("messages still queued after flush timeout", logger.Int("remaining", remaining))
	}
	kp.producer.Close()
	kp.wg.Wait()
	return nil
}
