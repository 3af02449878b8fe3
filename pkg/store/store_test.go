package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/wsecho/pkg/cache"
	"github.com/tokmz/wsecho/pkg/errors"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestGateway(t *testing.T, opts ...func(*Config)) *GormGateway {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Type = SQLite
	cfg.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	cfg.LogLevel = 1
	for _, opt := range opts {
		opt(cfg)
	}

	gw, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(&Config{Type: SQLite}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(&Config{Type: "oracle", DSN: "x"}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(&Config{Type: SQLite, DSN: "file::memory:", ReadWriteSplit: &ReadWriteSplitConfig{}}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestEnsureSchemaAndSeed(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.EnsureSchema(ctx))
	require.NoError(t, gw.EnsureSchema(ctx), "建表应幂等")

	count, err := gw.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, gw.Seed(ctx, 10))
	require.NoError(t, gw.Seed(ctx, 10))

	count, err = gw.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)

	var names []string
	require.NoError(t, gw.DB().Model(&Example{}).Order("id").Pluck("name", &names).Error)
	assert.Equal(t, "RandomName0", names[0])
	assert.Equal(t, "RandomName9", names[9])

	// 扩容只补缺失的部分
	require.NoError(t, gw.Seed(ctx, 12))
	count, err = gw.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)

	assert.NoError(t, gw.Seed(ctx, 0))
}

func TestCountRecordsConcurrent(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.EnsureSchema(ctx))
	require.NoError(t, gw.Seed(ctx, 10))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := gw.CountRecords(ctx)
			assert.NoError(t, err)
			assert.Equal(t, int64(10), count)
		}()
	}
	wg.Wait()
}

func TestQueryFailed(t *testing.T) {
	gw := newTestGateway(t)

	// 未建表
	_, err := gw.CountRecords(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueryFailed))
	assert.Equal(t, errors.CodeQueryFailed, errors.CodeOf(err))
}

func TestClosed(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.Ping(ctx))

	require.NoError(t, gw.Close())
	require.NoError(t, gw.Close())

	_, err := gw.CountRecords(ctx)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(gw.EnsureSchema(ctx), ErrStoreUnavailable))
	assert.True(t, errors.Is(gw.Seed(ctx, 1), ErrStoreUnavailable))
	assert.True(t, errors.Is(gw.Ping(ctx), ErrStoreUnavailable))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.True(t, errors.Is(classify(context.DeadlineExceeded), ErrStoreUnavailable))
	assert.True(t, errors.Is(classify(fmt.Errorf("syntax error")), ErrQueryFailed))
}

func TestTracingPlugin(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	gw := newTestGateway(t, func(c *Config) {
		c.Tracing = true
		c.SQLTrace = true
	})
	ctx := context.Background()
	require.NoError(t, gw.EnsureSchema(ctx))
	_, err := gw.CountRecords(ctx)
	require.NoError(t, err)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "gorm.Query" {
			continue
		}
		found = true
		for _, attr := range span.Attributes() {
			if attr.Key == "db.statement" {
				assert.Contains(t, attr.Value.AsString(), "example")
			}
		}
	}
	assert.True(t, found)
}

// countingGateway 记录 CountRecords 调用次数
type countingGateway struct {
	Gateway
	calls atomic.Int32
	count int64
	err   error
}

func (g *countingGateway) CountRecords(context.Context) (int64, error) {
	g.calls.Add(1)
	return g.count, g.err
}

func (g *countingGateway) Seed(context.Context, int) error {
	g.count++
	return nil
}

func (g *countingGateway) Close() error { return nil }

func TestCachedGateway(t *testing.T) {
	c, err := cache.New(nil)
	require.NoError(t, err)

	inner := &countingGateway{count: 10}
	gw := NewCachedGateway(inner, c, time.Minute)
	defer gw.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		count, err := gw.CountRecords(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(10), count)
	}
	assert.Equal(t, int32(1), inner.calls.Load())

	require.NoError(t, gw.Seed(ctx, 1))
	count, err := gw.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), count)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedGatewayError(t *testing.T) {
	c, err := cache.New(nil)
	require.NoError(t, err)

	inner := &countingGateway{err: ErrQueryFailed}
	gw := NewCachedGateway(inner, c, time.Minute)
	defer gw.Close()

	_, err = gw.CountRecords(context.Background())
	assert.True(t, errors.Is(err, ErrQueryFailed))
	_, err = gw.CountRecords(context.Background())
	assert.True(t, errors.Is(err, ErrQueryFailed))
	assert.Equal(t, int32(2), inner.calls.Load(), "失败结果不缓存")
}

func TestReadWriteSplit(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	one := 1
	gw := newTestGateway(t, func(c *Config) {
		c.ReadWriteSplit = &ReadWriteSplitConfig{
			Sources:      []string{dsn},
			Policy:       "round_robin",
			MaxOpenConns: &one,
		}
	})
	ctx := context.Background()

	require.NoError(t, gw.EnsureSchema(ctx))
	require.NoError(t, gw.Seed(ctx, 3))

	count, err := gw.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
