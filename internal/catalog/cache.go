package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/grocery-store/internal/config"
	"github.com/safar/grocery-store/internal/metrics"
)

const (
	keyPrefix = "catalog:"
	// generationKey lives outside keyPrefix so the invalidation sweep keeps it.
	generationKey = "catalog_generation"
)

// Cache stores serialized catalog reads. Implementations must treat every
// failure as a miss; the database stays the source of truth.
//
// Generation reports a counter that Invalidate advances. Readers scope their
// keys to it; ok is false when the counter cannot be read and the cache
// should be bypassed.
type Cache interface {
	Generation(ctx context.Context) (gen int64, ok bool)
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Invalidate(ctx context.Context)
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Generation(ctx context.Context) (int64, bool) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, true
		}
		c.logger.Warn("catalog cache generation read failed", "error", err)
		return 0, false
	}
	return gen, true
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("catalog cache get failed", "key", key, "error", err)
		}
		metrics.CacheMisses.WithLabelValues(metricKey(key)).Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues(metricKey(key)).Inc()
	return data, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, keyPrefix+key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache set failed", "key", key, "error", err)
	}
}

// Invalidate advances the generation, then drops every catalog key. Admin
// writes are rare, so a full sweep is simpler than tracking which lists a
// product appears in.
func (c *RedisCache) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		c.logger.Warn("catalog cache generation bump failed", "error", err)
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			c.logger.Warn("catalog cache scan failed", "error", err)
			return
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn("catalog cache del failed", "error", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// metricKey collapses per-id keys into their family for metric labels.
func metricKey(key string) string {
	family, _, _ := strings.Cut(key, ":")
	return family
}

type NopCache struct{}

func (NopCache) Generation(context.Context) (int64, bool)   { return 0, false }
func (NopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (NopCache) Set(context.Context, string, []byte)        {}
func (NopCache) Invalidate(context.Context)                 {}
