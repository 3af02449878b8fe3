package store

import (
	"context"
	"time"

	"github.com/tokmz/wsecho/pkg/cache"
)

const countCacheKey = "example:count"

// CachedGateway 为 CountRecords 加一层短 TTL 缓存
// 并发未命中通过 singleflight 合并为一次查询；缓存故障时直接查库
type CachedGateway struct {
	Gateway
	cache *cache.SingleflightCache
	ttl   time.Duration
}

// NewCachedGateway 创建带计数缓存的网关
// ttl 为 0 时使用缓存的默认 TTL
func NewCachedGateway(gw Gateway, c cache.Cache, ttl time.Duration) *CachedGateway {
	return &CachedGateway{
		Gateway: gw,
		cache:   cache.NewSingleflightCache(c),
		ttl:     ttl,
	}
}

func (g *CachedGateway) CountRecords(ctx context.Context) (int64, error) {
	return cache.RememberWithLock(ctx, g.cache, countCacheKey, g.ttl, func() (int64, error) {
		return g.Gateway.CountRecords(ctx)
	})
}

// Seed 写入后使计数缓存失效
func (g *CachedGateway) Seed(ctx context.Context, n int) error {
	if err := g.Gateway.Seed(ctx, n); err != nil {
		return err
	}
	g.cache.Forget(countCacheKey)
	_ = g.cache.Delete(ctx, countCacheKey)
	return nil
}

// Close 关闭缓存与底层网关
func (g *CachedGateway) Close() error {
	cerr := g.cache.Close()
	if err := g.Gateway.Close(); err != nil {
		return err
	}
	return cerr
}
