package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State 连接状态
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connHandler 连接回调
type connHandler interface {
	onMessage(c *Connection, payload string)
	onError(c *Connection, err error)
	onWritten(c *Connection)
	onWriteFailed(c *Connection, lost int, err error)
	onClose(c *Connection, code int, reason string, remote bool)
}

// Connection 单个 WebSocket 连接
// 一个读协程负责收消息并同步分发，一个写协程独占底层连接的写操作
type Connection struct {
	ID string

	seq        uint64
	conn       *websocket.Conn
	remoteAddr string
	acceptedAt time.Time
	config     *Config

	state    atomic.Int32
	messages atomic.Int64

	// 发送队列，永不关闭
	send chan []byte
	// draining 写协程开始最后一轮清空后置位，此后不再接收新消息
	draining atomic.Bool
	// 读协程分发消息期间持有
	inflight chan struct{}

	// forceClose 时关闭，写协程不再等待分发完成
	abort     chan struct{}
	abortOnce sync.Once

	// 关闭
	closeOnce   sync.Once
	done        chan struct{} // 进入 Closing 时关闭
	writeDone   chan struct{} // 写协程退出时关闭
	closeCode   int
	closeReason string
}

// newConnection 创建连接
func newConnection(conn *websocket.Conn, config *Config) *Connection {
	return &Connection{
		seq:        nextSeq(),
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		acceptedAt: time.Now(),
		config:     config,
		send:       make(chan []byte, config.SendQueueSize),
		inflight:   make(chan struct{}, 1),
		abort:      make(chan struct{}),
		done:       make(chan struct{}),
		writeDone:  make(chan struct{}),
	}
}

// RemoteAddr 远端地址
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// AcceptedAt 接入时间
func (c *Connection) AcceptedAt() time.Time {
	return c.acceptedAt
}

// State 当前状态
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Messages 已收到的消息数
func (c *Connection) Messages() int64 {
	return c.messages.Load()
}

// Done 进入 Closing 后关闭
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send 发送文本消息
// 队列满时等待；返回 nil 表示消息已交给写协程
// Closing 状态下仍可入队，写协程会在关闭帧之前写出
func (c *Connection) Send(ctx context.Context, payload string) error {
	if c.draining.Load() {
		return ErrSendFailed.WithMessage("ws: connection closing")
	}

	select {
	case c.send <- []byte(payload):
	case <-c.writeDone:
		return ErrSendFailed.WithMessage("ws: connection closed")
	case <-ctx.Done():
		return ErrSendFailed.WithError(ctx.Err())
	}

	// 写协程已开始最后一轮清空，无法确认这条消息是否会被写出
	if c.draining.Load() {
		return ErrSendFailed.WithMessage("ws: connection closing")
	}
	return nil
}

// Close 发起关闭，发送队列清空后写出关闭帧；可重复调用
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing))
		close(c.done)
	})
}

// open Connecting -> Open
func (c *Connection) open() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// forceClose 立即关闭底层连接
func (c *Connection) forceClose() {
	c.Close(websocket.CloseGoingAway, "server shutting down")
	c.abortOnce.Do(func() { close(c.abort) })
	_ = c.conn.Close()
}

// closing 是否已进入 Closing
func (c *Connection) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// serve 运行连接直到关闭，返回前完成 onClose
func (c *Connection) serve(h connHandler) {
	go c.writePump(h)

	code, reason, remote := c.readPump(h)

	c.Close(code, reason)
	<-c.writeDone
	_ = c.conn.Close()

	c.state.Store(int32(StateClosed))
	h.onClose(c, code, reason, remote)
}

// readPump 读取消息，返回关闭码、原因以及是否由对端发起
func (c *Connection) readPump(h connHandler) (int, string, bool) {
	c.conn.SetReadLimit(c.config.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout)); err != nil {
		return websocket.CloseAbnormalClosure, err.Error(), false
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
	})
	// 关闭帧回执由写协程在队列写完后发出
	c.conn.SetCloseHandler(func(int, string) error { return nil })

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case c.closing():
				// 本端发起关闭后的回执或超时
				return c.closeCode, c.closeReason, false
			case errors.As(err, &ce):
				return ce.Code, ce.Text, true
			default:
				h.onError(c, ErrReceiveFailed.WithError(err))
				return websocket.CloseAbnormalClosure, err.Error(), true
			}
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))

		if typ != websocket.TextMessage {
			continue
		}
		c.messages.Add(1)
		c.dispatch(h, string(data))
	}
}

// dispatch 在读协程中同步分发，非 Open 状态收到的消息直接丢弃
func (c *Connection) dispatch(h connHandler, payload string) {
	c.inflight <- struct{}{}
	defer func() { <-c.inflight }()

	if c.State() != StateOpen {
		return
	}
	h.onMessage(c, payload)
}

// writePump 写入消息
func (c *Connection) writePump(h connHandler) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		close(c.writeDone)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.writeMessage(message); err != nil {
				c.failWrite(h, err, 1)
				return
			}
			h.onWritten(c)

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait)); err != nil {
				c.failWrite(h, err, 0)
				return
			}

		case <-c.done:
			c.drain(h)
			return
		}
	}
}

// awaitDispatch 等待读协程上正在进行的分发完成，期间继续写出队列
func (c *Connection) awaitDispatch(h connHandler) bool {
	for {
		select {
		case c.inflight <- struct{}{}:
			<-c.inflight
			return true
		case message := <-c.send:
			if err := c.writeMessage(message); err != nil {
				c.failWrite(h, err, 1)
				return false
			}
			h.onWritten(c)
		case <-c.abort:
			return true
		}
	}
}

// drain 写出剩余消息与关闭帧
func (c *Connection) drain(h connHandler) {
	if !c.awaitDispatch(h) {
		return
	}

	c.draining.Store(true)
loop:
	for {
		select {
		case message := <-c.send:
			if err := c.writeMessage(message); err != nil {
				c.failWrite(h, err, 1)
				return
			}
			h.onWritten(c)
		default:
			break loop
		}
	}

	// 1006 只能本地使用，不写入关闭帧
	if c.closeCode == websocket.CloseAbnormalClosure {
		_ = c.conn.Close()
		return
	}

	deadline := time.Now().Add(c.config.WriteWait)
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		_ = c.conn.Close()
		return
	}
	// 等待对端回执关闭帧
	_ = c.conn.SetReadDeadline(deadline)
}

// failWrite 写失败，连接进入关闭流程
// lost 为已出队但未写出的消息数，队列中剩余的消息一并计入
func (c *Connection) failWrite(h connHandler, err error, lost int) {
	c.draining.Store(true)
	c.Close(websocket.CloseAbnormalClosure, "write failed")
	_ = c.conn.Close()

discard:
	for {
		select {
		case <-c.send:
			lost++
		default:
			break discard
		}
	}
	h.onWriteFailed(c, lost, ErrSendFailed.WithError(err))
}

// writeMessage 写入消息
func (c *Connection) writeMessage(message []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}
