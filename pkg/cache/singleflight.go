package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// SingleflightCache 单flight 缓存（防击穿）
// 同一 key 的并发回源只执行一次
type SingleflightCache struct {
	Cache
	group singleflight.Group
}

// NewSingleflightCache 创建单flight 缓存装饰器
func NewSingleflightCache(c Cache) *SingleflightCache {
	return &SingleflightCache{Cache: c}
}

// Forget 清除 key 的 singleflight 状态，下次请求重新回源
func (s *SingleflightCache) Forget(key string) {
	s.group.Forget(key)
}

// RememberWithLock 读缓存，未命中时回源并写回
// 回源通过 singleflight 合并；缓存读写失败只影响命中率，不影响结果
func RememberWithLock[T any](
	ctx context.Context,
	sf *SingleflightCache,
	key string,
	ttl time.Duration,
	fn func() (T, error),
) (T, error) {
	var cached T
	if err := sf.Cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	v, err, _ := sf.group.Do(key, func() (any, error) {
		result, err := fn()
		if err != nil {
			return result, err
		}
		_ = sf.Cache.Set(ctx, key, result, ttl)
		return result, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	result, ok := v.(T)
	if !ok {
		var zero T
		return zero, ErrCacheSerialization.WithMessage("invalid result type")
	}
	return result, nil
}
