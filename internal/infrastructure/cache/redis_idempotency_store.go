package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces idempotency keys in a shared redis
const DefaultKeyPrefix = "batchalloc:idempotency:"

// RedisIdempotencyStore shares processed keys across instances through redis SETNX
type RedisIdempotencyStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisIdempotencyStore connects to redis and verifies the connection
func NewRedisIdempotencyStore(ctx context.Context, cfg config.RedisConfig) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}
	return NewRedisIdempotencyStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisIdempotencyStoreWithClient wraps an existing client
func NewRedisIdempotencyStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed atomically records key with ttl; true when newly set
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: mark %s: %v", shared.ErrStoreUnavailable, key, err)
	}
	return ok, nil
}

// IsProcessed reports whether key is present
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check %s: %v", shared.ErrStoreUnavailable, key, err)
	}
	return n > 0, nil
}

// Release deletes key
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: release %s: %v", shared.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Close closes the redis client
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying client, e.g. for health checks
func (s *RedisIdempotencyStore) Client() redis.UniversalClient {
	return s.client
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
