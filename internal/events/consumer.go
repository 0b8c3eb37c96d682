package events

import (
	"context"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// defaultDedupSize bounds the in-process recent-event-ID set. It only has to
// cover the redelivery window around a consumer-group rebalance; durable
// dedup is the handlers' job via the idempotency layer.
const defaultDedupSize = 4096

// Handler processes one decoded envelope. A returned error is logged and the
// offset committed anyway: one poison message must never wedge a partition.
type Handler func(ctx context.Context, env *Envelope) error

// messageSource is the slice of kafka.Reader the consumer loop needs.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers   []string
	GroupID   string
	Topics    []string
	DedupSize int
	Logger    *zap.Logger
}

// Consumer subscribes a consumer group to a set of topics and dispatches
// envelopes to registered handlers, one message at a time per partition.
type Consumer struct {
	source   messageSource
	handlers map[string]Handler
	seen     *lru.Cache[string, struct{}]
	logger   *zap.Logger
}

// NewConsumer creates a Consumer over a real Kafka reader.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.GroupID == "" {
		return nil, errors.New("events: consumer group id is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("events: at least one topic is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
	})
	return newConsumer(reader, cfg)
}

func newConsumer(source messageSource, cfg ConsumerConfig) (*Consumer, error) {
	size := cfg.DedupSize
	if size <= 0 {
		size = defaultDedupSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("events: dedup cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		source:   source,
		handlers: make(map[string]Handler),
		seen:     seen,
		logger:   logger,
	}, nil
}

// On registers the handler for eventType. Must be called before Run.
func (c *Consumer) On(eventType string, h Handler) {
	c.handlers[eventType] = h
}

// Run consumes until ctx is cancelled or the reader is closed. Every fetched
// message is committed, whether it was handled, skipped as a duplicate,
// undecodable, or failed in its handler.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("events: fetch: %w", err)
		}

		c.process(ctx, &msg)

		if err := c.source.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("events: commit: %w", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg *kafka.Message) {
	env, err := ParseEnvelope(msg.Value)
	if err != nil {
		c.logger.Error("dropping undecodable message",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}

	if _, dup := c.seen.Get(env.EventID); dup {
		c.logger.Debug("skipping duplicate event",
			zap.String("event_id", env.EventID),
			zap.String("topic", msg.Topic))
		return
	}
	c.seen.Add(env.EventID, struct{}{})

	handler, ok := c.handlers[env.EventType]
	if !ok {
		c.logger.Debug("no handler for event type", zap.String("event_type", env.EventType))
		return
	}

	if err := handler(ctx, env); err != nil {
		// Poison-pill isolation: log with full context and move on.
		c.logger.Error("event handler failed",
			zap.String("event_id", env.EventID),
			zap.String("event_type", env.EventType),
			zap.String("trace_id", env.TraceID),
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
}

// Close shuts the underlying reader down.
func (c *Consumer) Close() error {
	return c.source.Close()
}
