package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wanderlustcms/api/internal/clock"
)

// RedisStore is a CounterStore backed by a shared Redis instance, for
// deployments where limits must hold across multiple API processes.
// Expiry is left to Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	clk    clock.Clock
	prefix string
}

// RedisConfig holds connection settings for the Redis counter store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// NewRedisStore creates a RedisStore and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig, clk clock.Clock) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, clk: clk, prefix: cfg.Prefix}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client redis.UniversalClient, clk clock.Clock, prefix string) *RedisStore {
	return &RedisStore{client: client, clk: clk, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	k := s.key(key)

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr: %w", err)
	}

	// TTL is set only on the first hit in the window; later hits must not
	// slide the reset point.
	if count == 1 {
		if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis expire: %w", err)
		}
		return count, s.clk.Now().Add(ttl), nil
	}

	remaining, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis pttl: %w", err)
	}
	if remaining < 0 {
		// Key exists without a TTL (expire lost between INCR and EXPIRE
		// of a concurrent first hit). Re-anchor rather than leak the key.
		if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis expire: %w", err)
		}
		remaining = ttl
	}

	return count, s.clk.Now().Add(remaining), nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) (int64, time.Time, bool, error) {
	k := s.key(key)

	count, err := s.client.Get(ctx, k).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, time.Time{}, false, nil
		}
		return 0, time.Time{}, false, fmt.Errorf("redis get: %w", err)
	}

	remaining, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("redis pttl: %w", err)
	}
	if remaining < 0 {
		return 0, time.Time{}, false, nil
	}

	return count, s.clk.Now().Add(remaining), true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the underlying client connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
