// Package messaging publishes SoloForge mining events to Kafka for external
// consumers: found blocks, session statistics, and lifecycle events.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/soloforge/soloforge/pkg/circuit"
	"github.com/soloforge/soloforge/pkg/errors"
	"github.com/soloforge/soloforge/pkg/log"
)

// KafkaClient wraps kafka-go with JSON encoding and per-topic writer pooling
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]*kafka.Writer
	writersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	cbConfig := &circuit.Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	return &KafkaClient{
		brokers:        brokers,
		logger:         logger.WithComponent("kafka"),
		writers:        make(map[string]*kafka.Writer),
		circuitBreaker: circuit.New(cbConfig),
	}
}

// GetProducer gets or creates a Kafka producer for a topic
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	// Double-check after acquiring write lock
	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// PublishJSON publishes a JSON-encoded event. Publishing is best effort from
// the miner's point of view: a single attempt behind the circuit breaker, so
// a dead broker cannot stall the telemetry loop.
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal",
			"failed to marshal event").
			WithContext("topic", topic).
			WithContext("key", key)
	}

	return k.circuitBreaker.Execute(ctx, func() error {
		writer := k.GetProducer(topic)
		msg := kafka.Message{
			Key:   []byte(key),
			Value: data,
			Time:  time.Now(),
		}

		if err := writer.WriteMessages(ctx, msg); err != nil {
			return errors.Wrap(err, errors.ErrorTypeMessaging, "publish_message",
				"failed to publish event to Kafka").
				WithContext("topic", topic).
				WithContext("key", key)
		}
		return nil
	})
}

// Close closes all pooled writers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	var firstErr error
	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeMessaging, "close_writer",
				"failed to close Kafka writer").
				WithContext("topic", topic)
		}
	}
	k.writers = make(map[string]*kafka.Writer)
	return firstErr
}
