package ws

import (
	"slices"
	"sync"
)

// Registry 连接注册表
// 唯一的共享结构；锁只覆盖 map 操作，不覆盖任何 I/O
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection // connID -> *Connection
	maxConns int                    // 最大连接数，0 表示不限
}

// NewRegistry 创建注册表
func NewRegistry(maxConns int) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		maxConns: maxConns,
	}
}

// Register 注册连接，ID 为空时分配新 ID
func (r *Registry) Register(c *Connection) (string, error) {
	if c.ID == "" {
		c.ID = newConnID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID]; exists {
		return "", ErrConnectionExists
	}
	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return "", ErrCapacityExceeded
	}
	r.conns[c.ID] = c
	return c.ID, nil
}

// Unregister 注销连接，不存在时无操作
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Get 获取连接
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return c, ok
}

// Count 获取连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot 连接快照，按接入顺序排列
// 返回调用时刻的完整集合，之后的变更不影响返回值
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(conns, func(a, b *Connection) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return conns
}
