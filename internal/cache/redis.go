// Package cache holds the Redis-backed read caches. Every cache here is
// best-effort: a Redis outage degrades to hitting the primary store, it
// never fails a request.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/techshop/storefront/internal/domain/category"
)

const treeKey = "categories:tree"

// TreeCache caches the assembled category tree in Redis as a JSON blob.
type TreeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTreeCache(client *redis.Client, ttl time.Duration) *TreeCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TreeCache{client: client, ttl: ttl}
}

func (c *TreeCache) Get(ctx context.Context) ([]*category.Node, bool) {
	data, err := c.client.Get(ctx, treeKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			zctx.From(ctx).Warn("Category tree cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var roots []*category.Node
	if err := json.Unmarshal(data, &roots); err != nil {
		zctx.From(ctx).Warn("Category tree cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return roots, true
}

func (c *TreeCache) Set(ctx context.Context, roots []*category.Node) {
	data, err := json.Marshal(roots)
	if err != nil {
		zctx.From(ctx).Warn("Category tree cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, treeKey, data, c.ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Category tree cache write failed", zap.Error(err))
	}
}

func (c *TreeCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, treeKey).Err(); err != nil {
		zctx.From(ctx).Warn("Category tree cache invalidation failed", zap.Error(err))
	}
}
