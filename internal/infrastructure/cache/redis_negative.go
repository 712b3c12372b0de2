package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

const (
	defaultKeyPrefix     = "gateway:negative:"
	defaultScanBatchSize = 100
)

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient dials redis and verifies the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisNegativeCache shares negative entries between processes through redis.
// Backend failures are logged and degrade to a miss or no-op.
type RedisNegativeCache struct {
	client redis.UniversalClient
	prefix string
	ttls   NegativeTTLs
	logger *slog.Logger
	now    func() time.Time
}

var _ gateway.NegativeCache = (*RedisNegativeCache)(nil)

// NewRedisNegativeCache wraps an existing client. The caller owns the client.
func NewRedisNegativeCache(client redis.UniversalClient, prefix string, ttls NegativeTTLs, logger *slog.Logger) *RedisNegativeCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	merged := DefaultNegativeTTLs()
	for kind, ttl := range ttls {
		if ttl > 0 {
			merged[kind] = ttl
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &RedisNegativeCache{
		client: client,
		prefix: prefix,
		ttls:   merged,
		logger: logger,
		now:    time.Now,
	}
}

func (c *RedisNegativeCache) key(service gateway.ServiceType, kind gateway.NegativeKind, document string) string {
	return c.prefix + negativeKey(service, kind, document)
}

func (c *RedisNegativeCache) Get(ctx context.Context, service gateway.ServiceType, kind gateway.NegativeKind, document string) (gateway.NegativeEntry, bool) {
	key := c.key(service, kind, document)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return gateway.NegativeEntry{}, false
	}
	if err != nil {
		c.logger.Warn("negative cache read failed", "key", key, "error", err)
		return gateway.NegativeEntry{}, false
	}

	var entry gateway.NegativeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("discarding corrupt negative cache entry", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return gateway.NegativeEntry{}, false
	}
	return entry, true
}

func (c *RedisNegativeCache) Set(ctx context.Context, service gateway.ServiceType, kind gateway.NegativeKind, document, reason string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttls.forKind(kind)
	}

	data, err := json.Marshal(gateway.NegativeEntry{Reason: reason, InsertedAt: c.now().UTC()})
	if err != nil {
		return
	}

	key := c.key(service, kind, document)
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("negative cache write failed", "key", key, "error", err)
	}
}

func (c *RedisNegativeCache) Invalidate(ctx context.Context, service gateway.ServiceType, kind gateway.NegativeKind, document string) {
	key := c.key(service, kind, document)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("negative cache delete failed", "key", key, "error", err)
	}
}

// Clear removes every key under the prefix.
func (c *RedisNegativeCache) Clear(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", defaultScanBatchSize).Result()
		if err != nil {
			c.logger.Warn("negative cache scan failed", "prefix", c.prefix, "error", err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn("negative cache clear failed", "prefix", c.prefix, "error", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Ping reports whether redis is reachable. Health probes use it.
func (c *RedisNegativeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
