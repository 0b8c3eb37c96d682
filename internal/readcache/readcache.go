// Package readcache manages the read-side response caches (account stats,
// charts, paginated transaction and ledger listings) and their invalidation
// after a balance mutation.
//
// The store has no key scan, so every cached key is also recorded in a
// per-account index. Invalidation reads the index and deletes everything it
// names. Entries carry their own TTL, so a lost index entry only delays
// expiry, never serves stale money.
package readcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openpaisa/paisad/internal/storage/kvstore"
)

// indexKeep bounds the per-account key index; older entries age out of the
// index and die by their own TTL.
const indexKeep = 256

// Cache is the read-side cache over the key/value store.
type Cache struct {
	kv  kvstore.Store
	ttl time.Duration
}

// New creates a Cache whose entries expire after ttl.
func New(kv kvstore.Store, ttl time.Duration) *Cache {
	return &Cache{kv: kv, ttl: ttl}
}

// StatsKey is the cache key for an account's aggregate stats.
func StatsKey(accountID string) string {
	return "cache:stats:" + accountID
}

// ChartKey is the cache key for an account's balance chart over a day window.
func ChartKey(accountID string, days int) string {
	return fmt.Sprintf("cache:chart:%s:%d", accountID, days)
}

// TxnsKey is the cache key for one page of an account's transaction listing.
func TxnsKey(accountID string, page, limit int) string {
	return fmt.Sprintf("cache:txns:%s:%d:%d", accountID, page, limit)
}

// LedgerKey is the cache key for one page of an account's ledger listing.
func LedgerKey(accountID string, page, limit int) string {
	return fmt.Sprintf("cache:ledger:%s:%d:%d", accountID, page, limit)
}

func indexKey(accountID string) string {
	return "cache:index:" + accountID
}

// Get returns the cached payload for key, or ("", false) on a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// Set caches payload under key and records the key in the account's index.
func (c *Cache) Set(ctx context.Context, accountID, key, payload string) error {
	if err := c.kv.Set(ctx, key, payload, c.ttl); err != nil {
		return err
	}
	score := float64(time.Now().UnixNano())
	return c.kv.ZAddTrim(ctx, indexKey(accountID), score, key, indexKeep, c.ttl)
}

// InvalidateAccounts deletes every cached key recorded for each account, one
// goroutine per account, and waits for all of them. Keys are small and the
// deletes fast, so awaiting keeps the read side coherent with the response.
func (c *Cache) InvalidateAccounts(ctx context.Context, accountIDs ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range accountIDs {
		g.Go(func() error {
			idx := indexKey(id)
			keys, err := c.kv.ZRange(ctx, idx, 0, -1)
			if err != nil {
				return fmt.Errorf("readcache: index %s: %w", idx, err)
			}
			if err := c.kv.Del(ctx, append(keys, idx)...); err != nil {
				return fmt.Errorf("readcache: invalidate %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
