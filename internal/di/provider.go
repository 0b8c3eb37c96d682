package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openpaisa/paisad/internal/config"
	"github.com/openpaisa/paisad/internal/core/fraud"
	"github.com/openpaisa/paisad/internal/core/ledger"
	"github.com/openpaisa/paisad/internal/core/transfer"
	"github.com/openpaisa/paisad/internal/events"
	"github.com/openpaisa/paisad/internal/idempotency"
	"github.com/openpaisa/paisad/internal/locks"
	"github.com/openpaisa/paisad/internal/logging"
	"github.com/openpaisa/paisad/internal/metrics"
	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/readcache"
	"github.com/openpaisa/paisad/internal/server"
	"github.com/openpaisa/paisad/internal/storage/kvstore"
	kvredis "github.com/openpaisa/paisad/internal/storage/kvstore/redis"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
	"github.com/openpaisa/paisad/internal/storage/relationaldb/postgres"
	"github.com/openpaisa/paisad/internal/storage/relationaldb/sqlite"
)

// Provider configures and registers services in the container.
type Provider struct {
	container *Container
	config    *config.Config
}

// NewProvider creates a new service provider.
func NewProvider(container *Container, cfg *config.Config) *Provider {
	return &Provider{
		container: container,
		config:    cfg,
	}
}

// RegisterAll registers all services as lazy builders; nothing connects until
// first resolved.
func (p *Provider) RegisterAll() error {
	p.container.Register(ServiceConfig, p.config)

	p.registerObservabilityBuilders()
	p.registerStorageBuilders()
	p.registerCoreBuilders()
	p.registerServerBuilders()

	return nil
}

func (p *Provider) registerObservabilityBuilders() {
	p.container.RegisterBuilder(ServiceLogger, func(c *Container) (interface{}, error) {
		return logging.New(p.config.Log.Level, p.config.Log.Development)
	})

	p.container.RegisterBuilder(ServiceRegistry, func(c *Container) (interface{}, error) {
		return prometheus.NewRegistry(), nil
	})

	p.container.RegisterBuilder(ServiceMetrics, func(c *Container) (interface{}, error) {
		reg, err := c.Get(ServiceRegistry)
		if err != nil {
			return nil, err
		}
		return metrics.New(reg.(*prometheus.Registry)), nil
	})
}

func (p *Provider) registerStorageBuilders() {
	p.container.RegisterBuilder(ServiceKVStore, func(c *Container) (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return kvredis.New(ctx, &kvredis.Config{
			Addr:     p.config.Redis.Addr,
			Password: p.config.Redis.Password,
			DB:       p.config.Redis.DB,
		})
	})

	p.container.RegisterBuilder(ServiceRelationalDB, func(c *Container) (interface{}, error) {
		dbCfg := relationaldb.NewConfig()
		dbCfg.Driver = p.config.DB.Driver
		dbCfg.DSN = p.config.DB.DSN
		if p.config.DB.MaxOpenConns > 0 {
			dbCfg.MaxOpenConns = p.config.DB.MaxOpenConns
		}
		if p.config.DB.MaxIdleConns > 0 {
			dbCfg.MaxIdleConns = p.config.DB.MaxIdleConns
		}
		if p.config.DB.ConnMaxLifetimeMin > 0 {
			dbCfg.ConnMaxLifetime = time.Duration(p.config.DB.ConnMaxLifetimeMin) * time.Minute
		}
		if p.config.DB.StatementTimeoutMS > 0 {
			dbCfg.StatementTimeout = time.Duration(p.config.DB.StatementTimeoutMS) * time.Millisecond
		}
		if p.config.DB.IdleInTransactionMS > 0 {
			dbCfg.IdleInTransactionKill = time.Duration(p.config.DB.IdleInTransactionMS) * time.Millisecond
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		switch p.config.DB.Driver {
		case "sqlite", "sqlite3":
			if dbCfg.MaxOpenConns != 1 {
				dbCfg.MaxOpenConns = 1
				dbCfg.MaxIdleConns = 1
			}
			return sqlite.Open(ctx, dbCfg)
		default:
			return postgres.Open(ctx, dbCfg)
		}
	})
}

func (p *Provider) registerCoreBuilders() {
	p.container.RegisterBuilder(ServicePairLock, func(c *Container) (interface{}, error) {
		kv, err := p.KVStore()
		if err != nil {
			return nil, err
		}
		return locks.New(kv, p.config.Lock.TTL()), nil
	})

	p.container.RegisterBuilder(ServiceIdempotency, func(c *Container) (interface{}, error) {
		kv, err := p.KVStore()
		if err != nil {
			return nil, err
		}
		return idempotency.New(kv, p.config.Idempotency.TTL()), nil
	})

	p.container.RegisterBuilder(ServiceReadCache, func(c *Container) (interface{}, error) {
		kv, err := p.KVStore()
		if err != nil {
			return nil, err
		}
		return readcache.New(kv, p.config.ReadCache.TTL()), nil
	})

	p.container.RegisterBuilder(ServiceFraudEngine, func(c *Container) (interface{}, error) {
		kv, err := p.KVStore()
		if err != nil {
			return nil, err
		}
		logger, err := p.Logger()
		if err != nil {
			return nil, err
		}
		return fraud.NewEngine(
			fraud.DefaultRules(kv, p.config.Fraud.LocalOffset()),
			fraud.Options{
				Thresholds: fraud.Thresholds{
					ApproveBelow:   p.config.Fraud.ApproveBelow,
					ReviewBelow:    p.config.Fraud.ReviewBelow,
					ChallengeBelow: p.config.Fraud.ChallengeBelow,
				},
				Timeout:  p.config.Fraud.Timeout(),
				FailOpen: p.config.Fraud.FailOpen,
				Logger:   logger.Named("fraud"),
			},
		), nil
	})

	p.container.RegisterBuilder(ServiceLedgerWriter, func(c *Container) (interface{}, error) {
		return ledger.NewWriter(), nil
	})

	p.container.RegisterBuilder(ServiceEventPublisher, func(c *Container) (interface{}, error) {
		logger, err := p.Logger()
		if err != nil {
			return nil, err
		}
		return events.NewKafkaPublisher(p.config.Kafka.Brokers, logger.Named("events")), nil
	})

	p.container.RegisterBuilder(ServiceTransferService, func(c *Container) (interface{}, error) {
		store, err := p.RelationalDB()
		if err != nil {
			return nil, err
		}
		pairLock, err := resolve[*locks.PairLock](c, ServicePairLock)
		if err != nil {
			return nil, err
		}
		idem, err := resolve[*idempotency.Cache](c, ServiceIdempotency)
		if err != nil {
			return nil, err
		}
		engine, err := resolve[*fraud.Engine](c, ServiceFraudEngine)
		if err != nil {
			return nil, err
		}
		writer, err := resolve[*ledger.Writer](c, ServiceLedgerWriter)
		if err != nil {
			return nil, err
		}
		rc, err := resolve[*readcache.Cache](c, ServiceReadCache)
		if err != nil {
			return nil, err
		}
		publisher, err := resolve[events.Publisher](c, ServiceEventPublisher)
		if err != nil {
			return nil, err
		}
		m, err := resolve[*metrics.Metrics](c, ServiceMetrics)
		if err != nil {
			return nil, err
		}
		logger, err := p.Logger()
		if err != nil {
			return nil, err
		}

		return transfer.NewService(
			store, pairLock, idem, engine, writer, rc, publisher, m,
			logger.Named("transfer"),
			transfer.Config{
				MinTransfer:       money.Paise(p.config.Transfer.MinTransfer),
				MaxTransfer:       money.Paise(p.config.Transfer.MaxTransfer),
				Currency:          p.config.Transfer.Currency,
				RetryAttempts:     p.config.Transfer.RetryAttempts,
				RetryBackoff:      p.config.Transfer.RetryBackoff(),
				EventPublishAwait: p.config.Events.PublishAwait,
			},
		), nil
	})
}

func (p *Provider) registerServerBuilders() {
	p.container.RegisterBuilder(ServiceHTTPServer, func(c *Container) (interface{}, error) {
		svc, err := resolve[*transfer.Service](c, ServiceTransferService)
		if err != nil {
			return nil, err
		}
		store, err := p.RelationalDB()
		if err != nil {
			return nil, err
		}
		kv, err := p.KVStore()
		if err != nil {
			return nil, err
		}
		registry, err := resolve[*prometheus.Registry](c, ServiceRegistry)
		if err != nil {
			return nil, err
		}
		logger, err := p.Logger()
		if err != nil {
			return nil, err
		}

		handler := server.NewHandler(svc, store, kv, registry, logger.Named("http"))
		return server.New(p.config.Server, handler.Router(), logger.Named("http")), nil
	})
}

// resolve fetches a service and asserts its concrete type.
func resolve[T any](c *Container, name string) (T, error) {
	var zero T
	svc, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service %s has unexpected type %T", name, svc)
	}
	return typed, nil
}

// Logger returns the process logger from the container.
func (p *Provider) Logger() (*zap.Logger, error) {
	return resolve[*zap.Logger](p.container, ServiceLogger)
}

// KVStore returns the key/value store from the container.
func (p *Provider) KVStore() (kvstore.Store, error) {
	return resolve[kvstore.Store](p.container, ServiceKVStore)
}

// RelationalDB returns the relational store from the container.
func (p *Provider) RelationalDB() (relationaldb.Store, error) {
	return resolve[relationaldb.Store](p.container, ServiceRelationalDB)
}

// HTTPServer returns the HTTP server from the container.
func (p *Provider) HTTPServer() (*server.Server, error) {
	return resolve[*server.Server](p.container, ServiceHTTPServer)
}

// EventPublisher returns the event publisher from the container.
func (p *Provider) EventPublisher() (events.Publisher, error) {
	return resolve[events.Publisher](p.container, ServiceEventPublisher)
}

// GetConfig returns the configuration from the container.
func (p *Provider) GetConfig() *config.Config {
	return p.config
}
