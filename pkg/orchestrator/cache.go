package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "mediation_ctx:"

// contextCache is a two-tier TTL cache for built contexts: Redis shared
// across instances, backed by a bounded in-process LRU that serves alone when
// Redis is down. No-context results are cached too, so a repeated benign
// message never re-runs the branches.
type contextCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
	local  *expirable.LRU[string, []byte]
}

func newContextCache(client redis.Cmdable, ttl time.Duration, capacity int, logger *slog.Logger) *contextCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &contextCache{
		client: client,
		ttl:    ttl,
		logger: logger,
		local:  expirable.NewLRU[string, []byte](capacity, nil, ttl),
	}
}

func (c *contextCache) get(ctx context.Context, fingerprint string, out any) bool {
	key := cacheKeyPrefix + fingerprint

	if c.client != nil {
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			if json.Unmarshal(raw, out) == nil {
				return true
			}
			c.logger.Warn("cached context unreadable, discarding", "key", key)
		} else if err != redis.Nil {
			c.logger.Debug("redis cache get failed", "error", err)
		}
	}

	raw, ok := c.local.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func (c *contextCache) set(ctx context.Context, fingerprint string, val any) {
	key := cacheKeyPrefix + fingerprint
	raw, err := json.Marshal(val)
	if err != nil {
		c.logger.Warn("marshal cached context failed", "error", err)
		return
	}

	if c.client != nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Debug("redis cache set failed", "error", err)
		}
	}
	c.local.Add(key, raw)
}
