// Package cache memoizes analytics results. Keys embed the snapshot version,
// so entries never need invalidation; they only age out.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"security-intel/internal/client"
	"security-intel/internal/config"
)

// Cache stores JSON-encoded query results. Failures never surface to the
// caller: a broken cache behaves like an empty one.
type Cache interface {
	// Get decodes the value stored under key into dst and reports a hit.
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any)
}

// Key builds a cache key from the operation, its parameters and the
// snapshot version the result was computed on.
func Key(op string, version int64, params ...any) string {
	var b strings.Builder
	b.WriteString(op)
	for _, p := range params {
		fmt.Fprintf(&b, ":%v", p)
	}
	fmt.Fprintf(&b, "@%d", version)
	return b.String()
}

// New builds the backend selected by cfg.Cache.Backend. The redis backend
// needs rc; when rc is nil it falls back to the in-process LRU.
func New(cfg *config.Config, rc *client.RedisClient, logger *zap.Logger) Cache {
	switch cfg.Cache.Backend {
	case "none":
		return Noop{}
	case "redis":
		if rc != nil {
			return NewRedis(rc, cfg.Cache.TTL, logger)
		}
		logger.Warn("Redis cache requested without a Redis client, using LRU")
	}
	return NewLRU(cfg.Cache.Size, cfg.Cache.TTL, logger)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) bool { return false }
func (Noop) Set(context.Context, string, any)      {}

// LRU is an in-process, size-bounded cache with per-entry TTL.
type LRU struct {
	entries *expirable.LRU[string, []byte]
	logger  *zap.Logger
}

func NewLRU(size int, ttl time.Duration, logger *zap.Logger) *LRU {
	if size <= 0 {
		size = 256
	}
	return &LRU{
		entries: expirable.NewLRU[string, []byte](size, nil, ttl),
		logger:  logger,
	}
}

func (c *LRU) Get(_ context.Context, key string, dst any) bool {
	raw, ok := c.entries.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		c.entries.Remove(key)
		return false
	}
	return true
}

func (c *LRU) Set(_ context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	c.entries.Add(key, raw)
}

// Len is the number of live entries.
func (c *LRU) Len() int {
	return c.entries.Len()
}

// byteStore is the subset of client.RedisClient used by the cache.
type byteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
}

// Redis shares results between replicas through Redis.
type Redis struct {
	store  byteStore
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(store byteStore, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{store: store, ttl: ttl, logger: logger}
}

func (c *Redis) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.store.Get(ctx, "results:"+key)
	if err != nil {
		if !errors.Is(err, client.ErrCacheMiss) {
			c.logger.Debug("Redis cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("Undecodable Redis cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Redis) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, "results:"+key, raw, c.ttl); err != nil {
		c.logger.Debug("Redis cache write failed", zap.String("key", key), zap.Error(err))
	}
}
