package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher ships envelopes to the durable bus.
type Publisher interface {
	// Publish wraps payload in an envelope and sends it on topic, keyed by
	// traceID for partition ordering.
	Publish(ctx context.Context, topic, traceID string, payload any) error
	Close() error
}

// KafkaPublisher publishes through one shared kafka-go writer. The writer
// dials lazily: a broker that is down at startup only surfaces on the first
// publish, which the pipeline logs and retries on the next event.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for brokers. The hash balancer maps
// equal keys to equal partitions, which is what gives per-trace ordering.
func NewKafkaPublisher(brokers []string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			WriteTimeout:           5 * time.Second,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, traceID string, payload any) error {
	env, err := NewEnvelope(topic, traceID, payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(traceID),
		Value: value,
	})
	if err != nil {
		p.logger.Error("event publish failed",
			zap.String("topic", topic),
			zap.String("event_id", env.EventID),
			zap.String("trace_id", traceID),
			zap.Error(err))
		return fmt.Errorf("events: publish %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
