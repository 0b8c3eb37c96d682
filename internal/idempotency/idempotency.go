// Package idempotency caches completed transfer records under their
// client-supplied idempotency keys. The cache is advisory: the unique
// constraint on transactions.idempotency_key is the durable guarantee, this
// layer only makes replays cheap.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openpaisa/paisad/internal/storage/kvstore"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// Cache stores serialized transfers keyed by idempotency key.
type Cache struct {
	kv  kvstore.Store
	ttl time.Duration
}

// New creates a Cache. The TTL is 24 hours by default (configurable).
func New(kv kvstore.Store, ttl time.Duration) *Cache {
	return &Cache{kv: kv, ttl: ttl}
}

func cacheKey(key string) string {
	return "idempotency:" + key
}

// Get returns the cached transfer for key, or (nil, false) on a miss. Store
// failures are returned so the caller can decide whether to fall through to
// the database backstop.
func (c *Cache) Get(ctx context.Context, key string) (*relationaldb.Transfer, bool, error) {
	raw, err := c.kv.Get(ctx, cacheKey(key))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: get %q: %w", key, err)
	}

	var t relationaldb.Transfer
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		// A corrupt entry is treated as a miss; the database still holds
		// the authoritative record.
		return nil, false, nil
	}
	return &t, true, nil
}

// Set caches the completed transfer under key.
func (c *Cache) Set(ctx context.Context, key string, t *relationaldb.Transfer) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("idempotency: encode %q: %w", key, err)
	}
	if err := c.kv.Set(ctx, cacheKey(key), string(raw), c.ttl); err != nil {
		return fmt.Errorf("idempotency: set %q: %w", key, err)
	}
	return nil
}
