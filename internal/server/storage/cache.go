package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BlobCache holds ciphertext by content address. A miss is (nil, false, nil).
type BlobCache interface {
	Get(ctx context.Context, contentAddress string) ([]byte, bool, error)
	Set(ctx context.Context, contentAddress string, data []byte) error
}

// redisCmdable is the part of *redis.Client the cache needs.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type RedisBlobCache struct {
	client redisCmdable
	ttl    time.Duration
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

func NewRedisBlobCache(client redisCmdable, ttl time.Duration) *RedisBlobCache {
	return &RedisBlobCache{client: client, ttl: ttl}
}

func blobCacheKey(ca string) string { return "blob:" + ca }

func (c *RedisBlobCache) Get(ctx context.Context, contentAddress string) ([]byte, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.get_blob",
		trace.WithAttributes(attribute.String("content_address", contentAddress)))
	defer span.End()

	data, err := c.client.Get(ctx, blobCacheKey(contentAddress)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return data, true, nil
}

func (c *RedisBlobCache) Set(ctx context.Context, contentAddress string, data []byte) error {
	ctx, span := tracer.Start(ctx, "redis.set_blob",
		trace.WithAttributes(
			attribute.String("content_address", contentAddress),
			attribute.Int64("ttl_seconds", int64(c.ttl.Seconds())),
		))
	defer span.End()

	if err := c.client.Set(ctx, blobCacheKey(contentAddress), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// CachedGateway serves Get from a BlobCache when it can. Content at an
// address never changes, so entries are never invalidated; they only expire.
// Cache failures are logged and otherwise ignored.
type CachedGateway struct {
	next   Gateway
	cache  BlobCache
	logger logging.Logger
}

func NewCachedGateway(next Gateway, cache BlobCache, logger logging.Logger) *CachedGateway {
	return &CachedGateway{next: next, cache: cache, logger: logger}
}

func (g *CachedGateway) Put(ctx context.Context, data []byte, name string) (Pin, error) {
	return g.next.Put(ctx, data, name)
}

func (g *CachedGateway) Unpin(ctx context.Context, pinID string) error {
	return g.next.Unpin(ctx, pinID)
}

func (g *CachedGateway) Get(ctx context.Context, contentAddress string) ([]byte, error) {
	data, ok, err := g.cache.Get(ctx, contentAddress)
	if err != nil {
		g.logger.Warn(ctx, "blob cache read failed", "content_address", contentAddress, "error", err)
	}
	if ok {
		return data, nil
	}

	data, err = g.next.Get(ctx, contentAddress)
	if err != nil {
		return nil, err
	}

	if err := g.cache.Set(ctx, contentAddress, data); err != nil {
		g.logger.Warn(ctx, "blob cache write failed", "content_address", contentAddress, "error", err)
	}
	return data, nil
}
