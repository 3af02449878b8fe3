package ws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/wsecho/pkg/errors"
)

// newTestConn 创建不带底层连接的测试连接
func newTestConn(queue int) *Connection {
	return &Connection{
		seq:       nextSeq(),
		config:    DefaultConfig(),
		send:      make(chan []byte, queue),
		inflight:  make(chan struct{}, 1),
		abort:     make(chan struct{}),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(2)

	a := newTestConn(1)
	id, err := r.Register(a)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, a.ID)

	dup := newTestConn(1)
	dup.ID = a.ID
	_, err = r.Register(dup)
	assert.True(t, errors.Is(err, ErrConnectionExists))

	_, err = r.Register(newTestConn(1))
	require.NoError(t, err)

	_, err = r.Register(newTestConn(1))
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.Equal(t, 2, r.Count())

	got, ok := r.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(0)
	c := newTestConn(1)
	_, err := r.Register(c)
	require.NoError(t, err)

	assert.True(t, r.Unregister(c.ID))
	assert.False(t, r.Unregister(c.ID))
	assert.False(t, r.Unregister("missing"))
	assert.Equal(t, 0, r.Count())

	_, ok := r.Get(c.ID)
	assert.False(t, ok)
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := NewRegistry(0)
	conns := make([]*Connection, 10)
	for i := range conns {
		conns[i] = newTestConn(1)
	}
	// 乱序注册，快照仍按接入顺序
	for i := len(conns) - 1; i >= 0; i-- {
		_, err := r.Register(conns[i])
		require.NoError(t, err)
	}

	snap := r.Snapshot()
	require.Len(t, snap, len(conns))
	for i := range conns {
		assert.Same(t, conns[i], snap[i])
	}
}

func TestRegistrySnapshotConcurrent(t *testing.T) {
	const workers = 100
	r := NewRegistry(0)

	stop := make(chan struct{})
	var snapshots sync.WaitGroup
	snapshots.Add(1)
	go func() {
		defer snapshots.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}

			snap := r.Snapshot()
			assert.LessOrEqual(t, len(snap), workers)

			seen := make(map[string]struct{}, len(snap))
			for i, c := range snap {
				_, dup := seen[c.ID]
				assert.False(t, dup, "duplicate id in snapshot")
				seen[c.ID] = struct{}{}
				if i > 0 {
					assert.Less(t, snap[i-1].seq, c.seq)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c := newTestConn(1)
				_, err := r.Register(c)
				assert.NoError(t, err)
				r.Unregister(c.ID)
			}
		}()
	}
	wg.Wait()
	close(stop)
	snapshots.Wait()

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.Snapshot())
}

func TestRegistryCapacityConcurrent(t *testing.T) {
	const limit = 50
	r := NewRegistry(limit)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Register(newTestConn(1))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, errors.Is(err, ErrCapacityExceeded))
				rejected++
				return
			}
			accepted++
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, accepted)
	assert.Equal(t, 150, rejected)
	assert.Equal(t, limit, r.Count())
}
