// Package config holds the daemon configuration, loaded from defaults, an
// optional paisad.toml and PAISAD_-prefixed environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the complete paisad configuration.
type Config struct {
	Server      ServerConfig      `toml:"server" mapstructure:"server"`
	Log         LogConfig         `toml:"log" mapstructure:"log"`
	Transfer    TransferConfig    `toml:"transfer" mapstructure:"transfer"`
	Fraud       FraudConfig       `toml:"fraud" mapstructure:"fraud"`
	Lock        LockConfig        `toml:"lock" mapstructure:"lock"`
	Idempotency IdempotencyConfig `toml:"idempotency" mapstructure:"idempotency"`
	ReadCache   ReadCacheConfig   `toml:"readcache" mapstructure:"readcache"`
	DB          DBConfig          `toml:"db" mapstructure:"db"`
	Redis       RedisConfig       `toml:"redis" mapstructure:"redis"`
	Kafka       KafkaConfig       `toml:"kafka" mapstructure:"kafka"`
	Events      EventsConfig      `toml:"events" mapstructure:"events"`

	configPath string `toml:"-" mapstructure:"-"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen            string `toml:"listen" mapstructure:"listen"`
	ReadTimeoutSecs   int    `toml:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`
	WriteTimeoutSecs  int    `toml:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`
	ShutdownGraceSecs int    `toml:"shutdown_grace_seconds" mapstructure:"shutdown_grace_seconds"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `toml:"level" mapstructure:"level"`
	Development bool   `toml:"development" mapstructure:"development"`
}

// TransferConfig bounds and tunes the transfer pipeline. Amounts are paise.
type TransferConfig struct {
	MinTransfer    int64  `toml:"min_transfer" mapstructure:"min_transfer"`
	MaxTransfer    int64  `toml:"max_transfer" mapstructure:"max_transfer"`
	Currency       string `toml:"currency" mapstructure:"currency"`
	RetryAttempts  int    `toml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMS int    `toml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// RetryBackoff returns the retry backoff unit as a duration.
func (t TransferConfig) RetryBackoff() time.Duration {
	return time.Duration(t.RetryBackoffMS) * time.Millisecond
}

// FraudConfig configures the scoring engine. The threshold bands are
// half-open from below: score < ApproveBelow approves, and so on upward.
type FraudConfig struct {
	ApproveBelow      int  `toml:"approve_below" mapstructure:"approve_below"`
	ReviewBelow       int  `toml:"review_below" mapstructure:"review_below"`
	ChallengeBelow    int  `toml:"challenge_below" mapstructure:"challenge_below"`
	TimeoutMS         int  `toml:"timeout_ms" mapstructure:"timeout_ms"`
	FailOpen          bool `toml:"fail_open" mapstructure:"fail_open"`
	LocalOffsetMinute int  `toml:"local_offset_minutes" mapstructure:"local_offset_minutes"`
}

// Timeout returns the engine timeout as a duration.
func (f FraudConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutMS) * time.Millisecond
}

// LocalOffset returns the UTC offset used for local-hour rules.
func (f FraudConfig) LocalOffset() time.Duration {
	return time.Duration(f.LocalOffsetMinute) * time.Minute
}

// LockConfig configures the distributed account locks.
type LockConfig struct {
	TTLSeconds int `toml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// TTL returns the lock TTL as a duration.
func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// IdempotencyConfig configures the replay cache.
type IdempotencyConfig struct {
	TTLSeconds int `toml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// TTL returns the cache TTL as a duration.
func (i IdempotencyConfig) TTL() time.Duration {
	return time.Duration(i.TTLSeconds) * time.Second
}

// ReadCacheConfig configures the read-side response cache.
type ReadCacheConfig struct {
	TTLSeconds int `toml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// TTL returns the cache TTL as a duration.
func (r ReadCacheConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// DBConfig configures the relational store.
type DBConfig struct {
	Driver              string `toml:"driver" mapstructure:"driver"`
	DSN                 string `toml:"dsn" mapstructure:"dsn"`
	MaxOpenConns        int    `toml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns        int    `toml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMin  int    `toml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
	StatementTimeoutMS  int    `toml:"statement_timeout_ms" mapstructure:"statement_timeout_ms"`
	IdleInTransactionMS int    `toml:"idle_in_transaction_timeout_ms" mapstructure:"idle_in_transaction_timeout_ms"`
}

// RedisConfig configures the key/value store connection.
type RedisConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	Password string `toml:"password" mapstructure:"password"`
	DB       int    `toml:"db" mapstructure:"db"`
}

// KafkaConfig configures the event bus.
type KafkaConfig struct {
	Brokers   []string `toml:"brokers" mapstructure:"brokers"`
	GroupID   string   `toml:"group_id" mapstructure:"group_id"`
	DedupSize int      `toml:"dedup_size" mapstructure:"dedup_size"`
}

// EventsConfig tunes post-commit event publication.
type EventsConfig struct {
	PublishAwait bool `toml:"publish_await" mapstructure:"publish_await"`
}

// GetConfigPath returns the path the config was loaded from, empty when only
// defaults and environment were used.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// Validate rejects configurations that cannot produce a working daemon.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config: server.listen cannot be empty")
	}
	if c.Transfer.MinTransfer <= 0 {
		return fmt.Errorf("config: transfer.min_transfer must be positive, got %d", c.Transfer.MinTransfer)
	}
	if c.Transfer.MaxTransfer < c.Transfer.MinTransfer {
		return fmt.Errorf("config: transfer.max_transfer %d below min_transfer %d",
			c.Transfer.MaxTransfer, c.Transfer.MinTransfer)
	}
	if c.Transfer.Currency == "" {
		return fmt.Errorf("config: transfer.currency cannot be empty")
	}
	if c.Transfer.RetryAttempts < 1 {
		return fmt.Errorf("config: transfer.retry_attempts must be at least 1, got %d", c.Transfer.RetryAttempts)
	}
	if c.Fraud.ApproveBelow > c.Fraud.ReviewBelow || c.Fraud.ReviewBelow > c.Fraud.ChallengeBelow {
		return fmt.Errorf("config: fraud thresholds must be ordered: approve_below %d <= review_below %d <= challenge_below %d",
			c.Fraud.ApproveBelow, c.Fraud.ReviewBelow, c.Fraud.ChallengeBelow)
	}
	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("config: lock.ttl_seconds must be positive, got %d", c.Lock.TTLSeconds)
	}
	if c.Idempotency.TTLSeconds <= 0 {
		return fmt.Errorf("config: idempotency.ttl_seconds must be positive, got %d", c.Idempotency.TTLSeconds)
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported db.driver %q (supported: postgres, sqlite)", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("config: db.dsn cannot be empty")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr cannot be empty")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers cannot be empty")
	}
	return nil
}
