package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"spotto-service/internal/config"
	"spotto-service/internal/message"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 10
)

func NewWriter(kafkaURL, topic string) *kafka.Writer {
	batchSize := config.GetInt("KAFKA_WRITER_BATCH_SIZE", DefaultBatchSize)
	batchTimeout := config.GetInt("KAFKA_WRITER_BATCH_TIMEOUT_MS", DefaultBatchTimeout)

	return &kafka.Writer{
		Addr:                   kafka.TCP(kafkaURL),
		Topic:                  topic,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(batchTimeout) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher announces granted entitlements on the entitlement topic.
type Publisher struct {
	writer MessageWriter
}

func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) EntitlementGranted(ctx context.Context, msg message.EntitlementGranted) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal entitlement event")
	}
	// Keyed by user so events for one user stay ordered.
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.UserID), Value: value})
	return errors.Wrap(err, "publish entitlement event")
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) EntitlementGranted(context.Context, message.EntitlementGranted) error {
	return nil
}
