// Package events publishes processed-notification events for downstream
// consumers.
//
// The durable queue in internal/storage remains the source of truth for
// notification history; the Kafka stream is a best-effort audit feed that lets
// external systems react to completed refreshes without polling the depot.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/depot-io/depot/internal/config"
	"github.com/depot-io/depot/internal/notifications"
)

const (
	defaultTopic        = "depot.notifications.processed"
	defaultWriteTimeout = 10 * time.Second
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// LoadConfig loads Kafka publisher configuration from environment variables.
// An empty broker list means publishing is disabled.
func LoadConfig() *Config {
	var brokers []string

	if value := config.GetEnvStr("DEPOT_KAFKA_BROKERS", ""); value != "" {
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				brokers = append(brokers, broker)
			}
		}
	}

	return &Config{
		Brokers:      brokers,
		Topic:        config.GetEnvStr("DEPOT_KAFKA_TOPIC", defaultTopic),
		WriteTimeout: config.GetEnvDuration("DEPOT_KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Enabled reports whether brokers are configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// KafkaPublisher publishes terminal notifications to a Kafka topic, keyed by
// parent event id so all children of one batch land in one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// Compile-time interface assertion.
var _ notifications.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the configured topic.
func NewKafkaPublisher(cfg *Config) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishProcessed emits one processed notification as a JSON message.
func (p *KafkaPublisher) PublishProcessed(ctx context.Context, notification *notifications.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encoding notification [%s]: %w", notification.EventID, err)
	}

	message := kafka.Message{
		Key:   []byte(notification.ParentEventID),
		Value: payload,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("publishing notification [%s]: %w", notification.EventID, err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
