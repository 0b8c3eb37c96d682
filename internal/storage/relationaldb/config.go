package relationaldb

import (
	"fmt"
	"time"
)

// Config contains relational store configuration settings.
type Config struct {
	// Driver selects the backend: "postgres" for production, "sqlite" for
	// development and tests.
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// Session timeouts applied to every new physical connection. A runaway
	// statement or an abandoned transaction is killed server-side even if
	// the client hangs.
	StatementTimeout      time.Duration `json:"statement_timeout" yaml:"statement_timeout"`
	IdleInTransactionKill time.Duration `json:"idle_in_transaction_kill" yaml:"idle_in_transaction_kill"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Driver:                "postgres",
		MaxOpenConns:          25,
		MaxIdleConns:          5,
		ConnMaxLifetime:       time.Hour,
		ConnMaxIdleTime:       15 * time.Minute,
		StatementTimeout:      8 * time.Second,
		IdleInTransactionKill: 5 * time.Second,
	}
}

// SQLiteConfig creates a SQLite-specific configuration.
func SQLiteConfig(path string) *Config {
	config := NewConfig()
	config.Driver = "sqlite"
	config.DSN = path
	config.MaxOpenConns = 1 // single writer
	config.MaxIdleConns = 1
	return config
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	switch c.Driver {
	case "postgres", "postgresql":
		c.Driver = "postgres"
	case "sqlite", "sqlite3":
		c.Driver = "sqlite"
	default:
		return fmt.Errorf("%w: %s", ErrInvalidDriver, c.Driver)
	}
	if c.DSN == "" {
		return ErrMissingDSN
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return NewConfigurationError("validate", "connection pool sizes must be >= 0", nil)
	}
	if c.MaxIdleConns > c.MaxOpenConns && c.MaxOpenConns > 0 {
		return NewConfigurationError("validate", "max idle connections cannot exceed max open connections", nil)
	}
	if c.StatementTimeout <= 0 || c.IdleInTransactionKill <= 0 {
		return NewConfigurationError("validate", "session timeouts must be positive", nil)
	}
	return nil
}
