package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the Store interface with a redis instance so that rate
// buckets and the pool snapshot are shared across gateway processes. It uses
// the same read-modify-write shape as MemoryStore; counter slippage across
// processes is acceptable for the fixed-window limiter.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisStore(addr string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		logger: logger,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Redis get failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Warn("Redis set failed", "key", key, "error", err)
	}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
