package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/fruit-check/internal/logging"
	"github.com/example/fruit-check/internal/repository"
)

// Cache abstracts the Redis operations used by RedisStore to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// RedisStore is a SessionStore keeping JSON snapshots in Redis under session:<id>.
type RedisStore struct {
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisStore wraps cache as a SessionStore; ttl is refreshed on every save.
func NewRedisStore(cache Cache, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("redis_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	var raw string
	err := s.withRedisRetry(ctx, sessionID, "cache.get.session", func() error {
		value, err := s.cache.Get(ctx, sessionKey(sessionID))
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		logging.WithOperation(s.logger, "cache.decode.session", sessionID).Warn("discarding undecodable session", zap.Error(err))
		return &Snapshot{}, nil
	}
	return &snap, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, snap *Snapshot) error {
	serialized, err := json.Marshal(snap)
	if err != nil {
		return logging.NewOperationError("cache.encode.session", sessionID, err)
	}
	return s.withRedisRetry(ctx, sessionID, "cache.set.session", func() error {
		return s.cache.Set(ctx, sessionKey(sessionID), string(serialized), s.ttl)
	})
}

func (s *RedisStore) withRedisRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, sessionID)
	attempts := s.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !repository.IsTransientError(err) || attempt == attempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}
