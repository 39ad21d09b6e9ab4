package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"

	"github.com/star/driftcast/internal/metrics"
)

const redisKeyPrefix = "driftcast:forecast:"

// RedisClient is the subset of the go-redis client used by RedisCache.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisCache shares raw forecast responses between replicas. Redis errors
// degrade to a pass-through; they never fail a fetch.
type RedisCache struct {
	client RedisClient
	next   RawSource
	ttl    time.Duration
	logger *slog.Logger
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

func NewRedisCache(client RedisClient, next RawSource, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &RedisCache{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: logger,
		enc:    enc,
		dec:    dec,
	}, nil
}

// Ping reports whether Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Fetch(ctx context.Context, q Query) ([]byte, error) {
	key := redisKeyPrefix + q.Key()

	compressed, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		data, derr := c.dec.DecodeAll(compressed, nil)
		if derr == nil {
			metrics.IncCacheHit("redis")
			return data, nil
		}
		c.logger.Warn("discarding corrupt cached forecast", "component", "forecast", "key", key, "error", derr)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("redis get failed", "component", "forecast", "key", key, "error", err)
	}
	metrics.IncCacheMiss("redis")

	data, err := c.next.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, c.enc.EncodeAll(data, nil), c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", "component", "forecast", "key", key, "error", err)
	}
	return data, nil
}
