package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/wsecho/pkg/errors"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMemoryCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyPrefix = "t:"
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()

	var got int64
	err = c.Get(ctx, "count", &got)
	assert.True(t, errors.Is(err, ErrCacheNotFound))

	require.NoError(t, c.Set(ctx, "count", int64(10), time.Minute))
	require.NoError(t, c.Get(ctx, "count", &got))
	assert.Equal(t, int64(10), got)

	require.NoError(t, c.Delete(ctx, "count"))
	assert.True(t, errors.Is(c.Get(ctx, "count", &got), ErrCacheNotFound))
	assert.NoError(t, c.Ping(ctx))
}

func TestMemoryCacheExpire(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	var v string
	assert.True(t, errors.Is(c.Get(ctx, "k", &v), ErrCacheNotFound))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"bad driver", &Config{Driver: "etcd", DefaultTTL: time.Second}, true},
		{"zero ttl", &Config{Driver: DriverMemory}, true},
		{"redis without addrs", &Config{Driver: DriverRedis, DefaultTTL: time.Second, Redis: &RedisConfig{}}, true},
		{"redis without config", &Config{Driver: DriverRedis, DefaultTTL: time.Second}, true},
		{"sentinel", &Config{Driver: DriverRedis, DefaultTTL: time.Second, Redis: &RedisConfig{Addrs: []string{"a:26379"}, MasterName: "m"}}, false},
		{"memory without config", &Config{Driver: DriverMemory, DefaultTTL: time.Second}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrCacheInvalidConfig))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRedisCacheUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = DriverRedis
	cfg.Redis.Addrs = []string{"127.0.0.1:1"}
	cfg.Redis.DialTimeout = 100 * time.Millisecond

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCacheConnection))
}

func TestRememberWithLock(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	defer c.Close()

	sf := NewSingleflightCache(c)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func() (int64, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int64, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := RememberWithLock(ctx, sf, "count", time.Minute, fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, int64(42), v)
	}
	assert.LessOrEqual(t, calls.Load(), int32(2))

	// 命中缓存，不再回源
	before := calls.Load()
	v, err := RememberWithLock(ctx, sf, "count", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, before, calls.Load())
}

func TestRememberWithLockError(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	defer c.Close()

	sf := NewSingleflightCache(c)
	boom := errors.New(9999, "boom")

	_, err = RememberWithLock(context.Background(), sf, "k", time.Minute, func() (int64, error) {
		return 0, boom
	})
	assert.True(t, errors.Is(err, boom))

	var v int64
	assert.True(t, errors.Is(c.Get(context.Background(), "k", &v), ErrCacheNotFound))
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	inner, err := New(nil)
	require.NoError(t, err)
	c := NewTracing(inner)
	defer c.Close()

	ctx := context.Background()
	var v string
	_ = c.Get(ctx, "missing", &v)
	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Delete(ctx, "k"))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "cache.Get", spans[0].Name())
	assert.Equal(t, "cache.Set", spans[1].Name())
	assert.Equal(t, "cache.Delete", spans[2].Name())
	// 未命中不记录错误
	assert.Empty(t, spans[0].Events())
}
