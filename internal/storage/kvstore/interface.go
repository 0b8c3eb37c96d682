// Package kvstore defines the key/value store operations the transfer kernel
// relies on: conditional sets for locking, TTL-bounded counters and windows
// for fraud state, and plain get/set for the idempotency and read caches.
//
// The store is ephemeral by contract. Nothing in it is the source of truth;
// every guarantee that matters is backed by the relational store.
package kvstore

import (
	"context"
	"time"
)

// Store defines the operations any kvstore implementation must support.
type Store interface {
	// Basic operations
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// SetNX sets key to value with a TTL only if the key does not exist.
	// Returns true when the key was set.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if its current value equals expect.
	// Returns true when the key was deleted.
	CompareAndDelete(ctx context.Context, key string, expect string) (bool, error)

	// IncrWithTTL atomically increments a counter, applying the TTL when the
	// counter is first created. Returns the value after the increment.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Sorted-set window operations (bounded rolling windows).
	// ZAddTrim adds a member, trims the set to its newest keep entries by
	// score, and refreshes the TTL.
	ZAddTrim(ctx context.Context, key string, score float64, member string, keep int, ttl time.Duration) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Set operations (distinct-member cardinality windows).
	SAddWithTTL(ctx context.Context, key string, member string, ttl time.Duration) error
	SCard(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
