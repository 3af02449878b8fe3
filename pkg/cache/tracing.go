package cache

import (
	"context"
	"time"

	"github.com/tokmz/wsecho/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "wsecho.cache"

// tracedCache 链路追踪缓存装饰器
type tracedCache struct {
	Cache
}

// NewTracing 创建带链路追踪的缓存实例
func NewTracing(c Cache) Cache {
	return &tracedCache{Cache: c}
}

// wrap 包装操作，自动处理 Span
func (t *tracedCache) wrap(ctx context.Context, operation, key string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	if err := fn(ctx); err != nil {
		// 未命中不算错误
		if !errors.Is(err, ErrCacheNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("cache.hit", false))
		}
		return err
	}
	return nil
}

func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	return t.wrap(ctx, "cache.Get", key, func(ctx context.Context) error {
		return t.Cache.Get(ctx, key, value)
	})
}

func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return t.wrap(ctx, "cache.Set", key, func(ctx context.Context) error {
		return t.Cache.Set(ctx, key, value, ttl)
	})
}

func (t *tracedCache) Delete(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	return t.wrap(ctx, "cache.Delete", key, func(ctx context.Context) error {
		return t.Cache.Delete(ctx, keys...)
	})
}
