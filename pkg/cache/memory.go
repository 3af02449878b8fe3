package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCache 进程内缓存，值以序列化后的字节保存，保证 Get 得到的是副本
type memoryCache struct {
	items      *gocache.Cache
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
}

func newMemoryCache(cfg *Config) *memoryCache {
	cleanup := time.Minute
	if cfg.Memory != nil && cfg.Memory.CleanupInterval > 0 {
		cleanup = cfg.Memory.CleanupInterval
	}
	return &memoryCache{
		items:      gocache.New(cfg.DefaultTTL, cleanup),
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}
}

func (m *memoryCache) Get(_ context.Context, key string, value any) error {
	v, found := m.items.Get(m.keyPrefix + key)
	if !found {
		return ErrCacheNotFound
	}
	data, ok := v.([]byte)
	if !ok {
		return ErrCacheSerialization.WithMessage("cache: unexpected value type")
	}
	if err := m.serializer.Unmarshal(data, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := m.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	m.items.Set(m.keyPrefix+key, data, ttl)
	return nil
}

func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.items.Delete(m.keyPrefix + key)
	}
	return nil
}

func (m *memoryCache) Ping(context.Context) error { return nil }

// Close 清空缓存
func (m *memoryCache) Close() error {
	m.items.Flush()
	return nil
}
