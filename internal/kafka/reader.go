package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"

	"spotto-service/internal/logcontext"
	"spotto-service/internal/message"
)

type Metrics struct {
	ReadErrorCounter      *metrics.Counter
	UnmarshalErrorCounter *metrics.Counter
	ProcessErrorCounter   *metrics.Counter
	SuccessCounter        *metrics.Counter
}

var entitlementEventMetrics = Metrics{
	ReadErrorCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="entitlement_granted"}`),
	UnmarshalErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="entitlement_granted"}`),
	ProcessErrorCounter:   metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="entitlement_granted"}`),
	SuccessCounter:        metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="entitlement_granted"}`),
}

// MessageReader is the part of *kafka.Reader the consumer loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type Invalidator interface {
	Invalidate(userID string)
}

// NewReader joins groupID on topic. Each instance needs its own group so
// every instance sees every grant.
func NewReader(kafkaURL, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     strings.Split(kafkaURL, ","),
		GroupID:     groupID,
		Topic:       topic,
		StartOffset: kafka.LastOffset,
	})
}

// ReadEntitlementEvents drops cached access decisions for every granted user
// until ctx is done.
func ReadEntitlementEvents(ctx context.Context, reader MessageReader, invalidator Invalidator, logger *slog.Logger) {
	readMessages(ctx, reader, logger, func(ctx context.Context, value []byte) error {
		var e message.EntitlementGranted
		if err := json.Unmarshal(value, &e); err != nil {
			logger.ErrorContext(ctx, "Error unmarshalling entitlement event", "error", err)
			entitlementEventMetrics.UnmarshalErrorCounter.Inc()
			return nil
		}
		if e.UserID == "" {
			entitlementEventMetrics.ProcessErrorCounter.Inc()
			logger.WarnContext(ctx, "Entitlement event without user")
			return nil
		}
		invalidator.Invalidate(e.UserID)
		entitlementEventMetrics.SuccessCounter.Inc()
		return nil
	}, entitlementEventMetrics)
}

func readMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, []byte) error, kafkaMetrics Metrics) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.InfoContext(ctx, "Context done, stopping kafka reader")
				return
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}

		msgCtx := logcontext.AppendCtx(ctx, slog.String("topic", m.Topic), slog.Int64("offset", m.Offset))
		logger.DebugContext(msgCtx, "Received message", "key", string(m.Key))

		if err := process(msgCtx, m.Value); err != nil {
			logger.ErrorContext(msgCtx, "Error processing message", "error", err)
			kafkaMetrics.ProcessErrorCounter.Inc()
		}
	}
}
