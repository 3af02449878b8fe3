package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/wsecho/pkg/errors"
	"github.com/tokmz/wsecho/pkg/logger"
	"github.com/tokmz/wsecho/pkg/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// stubGateway 可注入错误的存储网关
type stubGateway struct {
	ensureErr error
	seedErr   error
	countErr  error
	count     int64

	ensureCalls atomic.Int32
	seedCalls   atomic.Int32
	countCalls  atomic.Int32
}

func (g *stubGateway) EnsureSchema(context.Context) error {
	g.ensureCalls.Add(1)
	return g.ensureErr
}

func (g *stubGateway) Seed(context.Context, int) error {
	g.seedCalls.Add(1)
	return g.seedErr
}

func (g *stubGateway) CountRecords(context.Context) (int64, error) {
	g.countCalls.Add(1)
	return g.count, g.countErr
}

func (g *stubGateway) Ping(context.Context) error { return g.countErr }
func (g *stubGateway) Close() error               { return nil }

var _ store.Gateway = (*stubGateway)(nil)

func newTestDispatcher(policy Policy, gw store.Gateway, log logger.Logger) (*Dispatcher, *Registry, *EventBus, *Stats) {
	registry := NewRegistry(0)
	events := NewEventBus(1)
	stats := &Stats{}
	return NewDispatcher(registry, policy, gw, events, stats, log, time.Second), registry, events, stats
}

func recv(t *testing.T, c *Connection) string {
	t.Helper()
	select {
	case msg := <-c.send:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("no response queued")
		return ""
	}
}

func TestDispatcherEcho(t *testing.T) {
	gw := &stubGateway{count: 10}
	d, registry, events, stats := newTestDispatcher(CountingEchoPolicy{}, gw, nil)
	defer events.Close()

	c := newTestConn(4)
	_, err := registry.Register(c)
	require.NoError(t, err)

	for _, payload := range []string{"ping", "", "中文", "Echo: nested"} {
		require.NoError(t, d.Handle(context.Background(), c.ID, payload))
		assert.Equal(t, "Echo: "+payload, recv(t, c))
	}

	assert.Equal(t, int32(4), gw.countCalls.Load())
	snap := stats.Snapshot()
	assert.Equal(t, int64(4), snap.MessagesReceived)
	assert.Zero(t, snap.SendFailures)
}

func TestDispatcherEchoPolicySkipsStore(t *testing.T) {
	gw := &stubGateway{}
	d, registry, events, _ := newTestDispatcher(EchoPolicy{}, gw, nil)
	defer events.Close()

	c := newTestConn(1)
	_, err := registry.Register(c)
	require.NoError(t, err)

	require.NoError(t, d.Handle(context.Background(), c.ID, "hi"))
	assert.Equal(t, "Echo: hi", recv(t, c))
	assert.Zero(t, gw.countCalls.Load())
}

func TestDispatcherStoreFailureStillEchoes(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	gw := &stubGateway{countErr: store.ErrStoreUnavailable}
	d, registry, events, stats := newTestDispatcher(CountingEchoPolicy{}, gw, logger.FromZap(zap.New(core)))
	defer events.Close()

	failed := make(chan Event, 1)
	events.Subscribe(EventStoreFailed, func(e Event) { failed <- e })

	c := newTestConn(1)
	_, err := registry.Register(c)
	require.NoError(t, err)

	require.NoError(t, d.Handle(context.Background(), c.ID, "still here"))
	assert.Equal(t, "Echo: still here", recv(t, c))

	select {
	case e := <-failed:
		assert.Equal(t, c.ID, e.ConnID)
		assert.True(t, errors.Is(e.Err, store.ErrStoreUnavailable))
	case <-time.After(time.Second):
		t.Fatal("store failure not published")
	}

	assert.Equal(t, int64(1), stats.Snapshot().StoreFailures)
	assert.Equal(t, 1, logs.FilterMessage("store side effect failed").Len())
}

func TestDispatcherConnectionGone(t *testing.T) {
	d, _, events, stats := newTestDispatcher(EchoPolicy{}, nil, nil)
	defer events.Close()

	err := d.Handle(context.Background(), "missing", "hi")
	assert.True(t, errors.Is(err, ErrConnectionGone))
	assert.Equal(t, int64(1), stats.Snapshot().Dropped)
}

func TestDispatcherSendFailed(t *testing.T) {
	d, registry, events, stats := newTestDispatcher(EchoPolicy{}, nil, nil)
	defer events.Close()

	c := newTestConn(1)
	_, err := registry.Register(c)
	require.NoError(t, err)
	c.Close(1000, "bye")
	// 写协程已开始最后一轮清空
	c.draining.Store(true)

	err = d.Handle(context.Background(), c.ID, "hi")
	assert.True(t, errors.Is(err, ErrSendFailed))
	assert.Equal(t, int64(1), stats.Snapshot().SendFailures)
}

func TestDispatcherSendWhileClosing(t *testing.T) {
	d, registry, events, stats := newTestDispatcher(EchoPolicy{}, nil, nil)
	defer events.Close()

	c := newTestConn(1)
	_, err := registry.Register(c)
	require.NoError(t, err)
	c.Close(1001, "server shutting down")

	// 关闭帧写出之前，分发中的响应仍可入队
	require.NoError(t, d.Handle(context.Background(), c.ID, "late"))
	assert.Equal(t, "Echo: late", recv(t, c))
	assert.Zero(t, stats.Snapshot().SendFailures)
}

func TestDispatcherSendContextCancelled(t *testing.T) {
	d, registry, events, _ := newTestDispatcher(EchoPolicy{}, nil, nil)
	defer events.Close()

	// 队列已满
	c := newTestConn(1)
	c.send <- []byte("pending")
	_, err := registry.Register(c)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = d.Handle(ctx, c.ID, "hi")
	assert.True(t, errors.Is(err, ErrSendFailed))
	assert.Equal(t, StateClosing, c.State(), "发送失败后连接进入关闭流程")
}

func TestDispatcherConcurrentConnections(t *testing.T) {
	const (
		conns    = 50
		messages = 20
	)
	d, registry, events, stats := newTestDispatcher(CountingEchoPolicy{}, &stubGateway{}, nil)
	defer events.Close()

	all := make([]*Connection, conns)
	for i := range all {
		all[i] = newTestConn(messages)
		_, err := registry.Register(all[i])
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i, c := range all {
		wg.Add(1)
		go func(i int, c *Connection) {
			defer wg.Done()
			for j := 0; j < messages; j++ {
				assert.NoError(t, d.Handle(context.Background(), c.ID, fmt.Sprintf("c%d-m%d", i, j)))
			}
		}(i, c)
	}
	wg.Wait()

	// 每个连接只收到自己的响应，且顺序不变
	for i, c := range all {
		for j := 0; j < messages; j++ {
			assert.Equal(t, fmt.Sprintf("Echo: c%d-m%d", i, j), recv(t, c))
		}
	}
	assert.Equal(t, int64(conns*messages), stats.Snapshot().MessagesReceived)
}
