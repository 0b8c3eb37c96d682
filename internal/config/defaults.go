package config

import "github.com/spf13/viper"

// setDefaults seeds every configuration key so a bare environment still
// produces a valid development config (sqlite, local redis and kafka).
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 15)
	v.SetDefault("server.shutdown_grace_seconds", 20)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	// Transfer pipeline. Amounts are paise: min 1 rupee, max 1 crore rupees.
	v.SetDefault("transfer.min_transfer", 100)
	v.SetDefault("transfer.max_transfer", 1000000000)
	v.SetDefault("transfer.currency", "INR")
	v.SetDefault("transfer.retry_attempts", 3)
	v.SetDefault("transfer.retry_backoff_ms", 100)

	// Fraud scoring
	v.SetDefault("fraud.approve_below", 30)
	v.SetDefault("fraud.review_below", 60)
	v.SetDefault("fraud.challenge_below", 80)
	v.SetDefault("fraud.timeout_ms", 5000)
	v.SetDefault("fraud.fail_open", true)
	v.SetDefault("fraud.local_offset_minutes", 330) // IST

	// Distributed locks
	v.SetDefault("lock.ttl_seconds", 10)

	// Idempotency replay cache
	v.SetDefault("idempotency.ttl_seconds", 86400)

	// Read-side response cache
	v.SetDefault("readcache.ttl_seconds", 300)

	// Relational store
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "paisad.db")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime_minutes", 30)
	v.SetDefault("db.statement_timeout_ms", 8000)
	v.SetDefault("db.idle_in_transaction_timeout_ms", 5000)

	// Key/value store
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Event bus
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "paisad")
	v.SetDefault("kafka.dedup_size", 4096)
	v.SetDefault("events.publish_await", false)
}
