package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openpaisa/paisad/internal/config"
	"github.com/openpaisa/paisad/internal/di"
	"github.com/openpaisa/paisad/internal/events"
)

// serveCmd starts the transfer daemon: HTTP API plus the payment event
// consumer. This is the default command when no subcommand is given.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the paisad transfer daemon",
	Long: `Start the paisad daemon which provides:
- HTTP API for transfer initiation and lookup
- Health check and Prometheus metrics endpoints
- Kafka consumer auditing the payment event stream`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	container := di.New()
	provider := di.NewProvider(container, cfg)
	if err := provider.RegisterAll(); err != nil {
		return err
	}

	logger, err := provider.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := provider.RelationalDB()
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer store.Close()

	kv, err := provider.KVStore()
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer kv.Close()

	httpServer, err := provider.HTTPServer()
	if err != nil {
		return err
	}

	publisher, err := provider.EventPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := newAuditConsumer(cfg, logger.Named("consumer"))
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- httpServer.Start()
	}()
	go func() {
		errCh <- consumer.Run(ctx)
	}()

	logger.Info("paisad started",
		zap.String("listen", cfg.Server.Listen),
		zap.String("db_driver", cfg.DB.Driver),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("component failed", zap.Error(err))
		}
	}
	stop()

	shutdownCtx := context.Background()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := consumer.Close(); err != nil {
		logger.Warn("consumer close failed", zap.Error(err))
	}

	logger.Info("paisad stopped")
	return nil
}

// newAuditConsumer subscribes to the payment stream and writes one structured
// audit line per event. Durable side effects (webhooks, notifications) hang
// off the same consumer framework in downstream services.
func newAuditConsumer(cfg *config.Config, logger *zap.Logger) (*events.Consumer, error) {
	consumer, err := events.NewConsumer(events.ConsumerConfig{
		Brokers:   cfg.Kafka.Brokers,
		GroupID:   cfg.Kafka.GroupID,
		DedupSize: cfg.Kafka.DedupSize,
		Logger:    logger,
		Topics: []string{
			events.TopicPaymentInitiated,
			events.TopicPaymentCompleted,
			events.TopicPaymentFailed,
			events.TopicPaymentFraudBlocked,
		},
	})
	if err != nil {
		return nil, err
	}

	audit := func(ctx context.Context, env *events.Envelope) error {
		logger.Info("payment event",
			zap.String("event_type", env.EventType),
			zap.String("event_id", env.EventID),
			zap.String("trace_id", env.TraceID))
		return nil
	}
	consumer.On(events.TopicPaymentInitiated, audit)
	consumer.On(events.TopicPaymentCompleted, audit)
	consumer.On(events.TopicPaymentFailed, audit)
	consumer.On(events.TopicPaymentFraudBlocked, audit)

	return consumer, nil
}
