// Package cache 提供计数缓存的存储后端：进程内（go-cache）与 Redis
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache 缓存接口
type Cache interface {
	// Get 读取 key 并反序列化到 value，未命中返回 ErrCacheNotFound
	Get(ctx context.Context, key string, value any) error
	// Set 写入 key，ttl 为 0 时使用默认 TTL
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// Serializer 序列化接口
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer JSON 序列化器（默认）
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// New 按驱动创建缓存
func New(cfg *Config) (Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Serializer == nil {
		cfg.Serializer = JSONSerializer{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverRedis:
		return newRedisCache(cfg)
	default:
		return newMemoryCache(cfg), nil
	}
}
