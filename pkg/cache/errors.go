package cache

import "github.com/tokmz/wsecho/pkg/errors"

// 预定义错误
var (
	ErrCacheNotFound      = errors.New(3101, "cache key not found", 404)
	ErrCacheConnection    = errors.New(3103, "cache connection failed")
	ErrCacheSerialization = errors.New(3104, "cache serialization failed")
	ErrCacheInvalidConfig = errors.New(3105, "cache invalid config")
	ErrCacheOperation     = errors.New(3106, "cache operation failed")
)
