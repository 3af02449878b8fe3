package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventConnectionOpened 连接建立
	EventConnectionOpened EventType = "connection.opened"
	// EventConnectionClosed 连接关闭
	EventConnectionClosed EventType = "connection.closed"
	// EventConnectionError 连接收发错误
	EventConnectionError EventType = "connection.error"
	// EventCapacityRejected 超出连接上限被拒绝
	EventCapacityRejected EventType = "connection.rejected"
	// EventStoreFailed 存储副作用失败
	EventStoreFailed EventType = "store.failed"
)

// Event 事件
type Event struct {
	Type       EventType
	ConnID     string
	RemoteAddr string
	Code       int    // 关闭码，仅 EventConnectionClosed
	Reason     string // 关闭原因，仅 EventConnectionClosed
	Remote     bool   // 是否由对端发起，仅 EventConnectionClosed
	Err        error
	Time       time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 事件总线
// 连接级错误经由此处上报，不跨连接传播
type EventBus struct {
	handlers      map[EventType][]EventHandler
	mu            sync.RWMutex
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	closeOnce     sync.Once
	droppedEvents atomic.Int64 // 丢弃的事件计数
}

// NewEventBus 创建事件总线
func NewEventBus(workers int) *EventBus {
	if workers <= 0 {
		workers = 1
	}

	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), 1024),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

// worker 工作协程
func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			// 处理完已入队的事件再退出
			for {
				select {
				case task := <-eb.workerCh:
					task()
				default:
					return
				}
			}
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件（异步）
func (eb *EventBus) Publish(event Event) {
	if eb.closed.Load() {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		task := func() { h(event) }

		// 连接建立与关闭事件等待入队，其它事件队列满时丢弃
		if event.Type == EventConnectionOpened || event.Type == EventConnectionClosed {
			select {
			case eb.workerCh <- task:
			case <-time.After(100 * time.Millisecond):
				eb.droppedEvents.Add(1)
			}
			continue
		}

		select {
		case eb.workerCh <- task:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close 关闭事件总线，等待 worker 退出
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.closed.Store(true)
		close(eb.stopCh)
		eb.wg.Wait()
	})
}

// DroppedEvents 丢弃的事件数量
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}
