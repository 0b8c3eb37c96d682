// Package redis implements the kvstore.Store contract on top of a Redis
// server using go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openpaisa/paisad/internal/storage/kvstore"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("redis: addr is required")
	}
	return nil
}

// Store is a Redis-backed kvstore.Store.
type Store struct {
	client *redis.Client
}

var _ kvstore.Store = (*Store)(nil)

// compareAndDeleteScript deletes a key only when it still holds the expected
// value. Used for token-guarded lock release.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// New creates a Store and verifies connectivity.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", kvstore.ErrUnavailable, err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", kvstore.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", kvstore.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return ok, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, expect).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: compare-and-delete %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return res == 1, nil
}

func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return incr.Val(), nil
}

func (s *Store) ZAddTrim(ctx context.Context, key string, score float64, member string, keep int, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	// Keep only the newest `keep` members by score.
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-(keep + 1)))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: zadd %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: zrange %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return vals, nil
}

func (s *Store) SAddWithTTL(ctx context.Context, key, member string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, member)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: sadd %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: scard %s: %v", kvstore.ErrUnavailable, key, err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", kvstore.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
