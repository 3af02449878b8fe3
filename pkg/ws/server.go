package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tokmz/wsecho/pkg/errors"
	"github.com/tokmz/wsecho/pkg/logger"
	"github.com/tokmz/wsecho/pkg/store"
	"go.uber.org/zap"
)

// Server WebSocket 回显服务
type Server struct {
	// 核心组件
	registry   *Registry
	dispatcher *Dispatcher
	events     *EventBus
	gateway    store.Gateway
	stats      *Stats

	// 配置
	config   *Config
	upgrader *websocket.Upgrader
	log      logger.Logger

	// 生命周期
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex // 保护 closing 与 wg.Add 的先后顺序
	closing  bool
	ready    atomic.Bool
	startErr atomic.Pointer[error]
	wg       sync.WaitGroup
}

// NewServer 创建服务
// gateway 可为 nil，此时不做存储初始化与副作用
func NewServer(gateway store.Gateway, opts ...Option) (*Server, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return NewServerWithConfig(config, gateway)
}

// NewServerWithConfig 使用完整配置创建服务
func NewServerWithConfig(config *Config, gateway store.Gateway) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	policy := config.Policy
	if policy == nil {
		policy, _ = PolicyByName(config.PolicyName)
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("ws")

	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry(config.MaxConnections)
	events := NewEventBus(config.EventWorkers)
	stats := &Stats{}

	s := &Server{
		registry:   registry,
		dispatcher: NewDispatcher(registry, policy, gateway, events, stats, log, config.StoreTimeout),
		events:     events,
		gateway:    gateway,
		stats:      stats,
		config:     config,
		upgrader:   newUpgrader(config),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
	return s, nil
}

// OnStart 初始化存储：建表并写入种子数据
// 失败时服务保持未就绪，拒绝所有升级请求
func (s *Server) OnStart(ctx context.Context) error {
	if s.gateway != nil {
		if err := s.gateway.EnsureSchema(ctx); err != nil {
			return s.failStart("ensure schema", err)
		}
		if s.config.SeedCount > 0 {
			if err := s.gateway.Seed(ctx, s.config.SeedCount); err != nil {
				return s.failStart("seed", err)
			}
		}
	}

	s.ready.Store(true)
	s.log.Info("websocket server ready",
		zap.Int("max_connections", s.config.MaxConnections),
		zap.Int("seed_count", s.config.SeedCount),
	)
	return nil
}

func (s *Server) failStart(step string, err error) error {
	startErr := error(ErrStartupInitFailed.WithMessage("ws: startup init failed: " + step).WithError(err))
	s.startErr.Store(&startErr)
	s.log.Error("startup init failed", zap.String("step", step), zap.Error(err))
	return startErr
}

// Ready 是否已就绪
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// StartErr 启动初始化失败原因
func (s *Server) StartErr() error {
	if p := s.startErr.Load(); p != nil {
		return *p
	}
	return nil
}

// HandleUpgrade 处理 WebSocket 升级
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closing {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrServerClosed
	}
	if !s.ready.Load() {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		if err := s.StartErr(); err != nil {
			return err
		}
		return ErrNotReady
	}

	// 升级失败时 gorilla 已写回 HTTP 错误
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return err
	}

	c := newConnection(conn, s.config)
	if _, err := s.registry.Register(c); err != nil {
		s.reject(c, err)
		return err
	}
	c.open()
	s.onOpen(c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.serve(s)
	}()

	return nil
}

// reject 拒绝已升级但无法注册的连接
func (s *Server) reject(c *Connection, err error) {
	s.stats.rejected.Add(1)
	s.log.Warn("connection rejected", zap.String("remote_addr", c.remoteAddr), zap.Error(err))
	s.events.Publish(Event{Type: EventCapacityRejected, RemoteAddr: c.remoteAddr, Err: err})

	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "try again later")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WriteWait))
	_ = c.conn.Close()
}

// onOpen 连接建立
func (s *Server) onOpen(c *Connection) {
	s.stats.accepted.Add(1)
	s.stats.active.Add(1)
	s.log.Debug("connection opened", zap.String("conn_id", c.ID), zap.String("remote_addr", c.remoteAddr))
	s.events.Publish(Event{Type: EventConnectionOpened, ConnID: c.ID, RemoteAddr: c.remoteAddr})

	if s.config.Greeting != "" {
		if err := c.Send(s.ctx, s.config.Greeting); err != nil {
			s.onError(c, err)
		}
	}
}

// onMessage 在连接的读协程中同步分发，保证单连接内的顺序
func (s *Server) onMessage(c *Connection, payload string) {
	ctx := logger.WithConnID(s.ctx, c.ID)
	if err := s.dispatcher.Handle(ctx, c.ID, payload); err != nil {
		s.log.DebugContext(ctx, "dispatch failed", zap.Error(err))
	}
}

// onError 连接级错误，只影响当前连接
func (s *Server) onError(c *Connection, err error) {
	switch {
	case errors.Is(err, ErrReceiveFailed):
		s.stats.receiveFailures.Add(1)
	case errors.Is(err, ErrSendFailed):
		s.stats.sendFailures.Add(1)
	}
	s.log.Warn("connection error",
		zap.String("conn_id", c.ID),
		zap.String("remote_addr", c.remoteAddr),
		zap.Error(err),
	)
	s.events.Publish(Event{Type: EventConnectionError, ConnID: c.ID, RemoteAddr: c.remoteAddr, Err: err})
	c.Close(websocket.CloseInternalServerErr, "internal error")
}

// onWritten 一条出站消息已写出
func (s *Server) onWritten(*Connection) {
	s.stats.responsesSent.Add(1)
}

// onWriteFailed 写协程写失败，lost 条已接受的消息未能写出
func (s *Server) onWriteFailed(c *Connection, lost int, err error) {
	if lost == 0 {
		s.log.Debug("write failed", zap.String("conn_id", c.ID), zap.Error(err))
		return
	}
	s.stats.sendFailures.Add(int64(lost))
	s.log.Warn("connection error",
		zap.String("conn_id", c.ID),
		zap.String("remote_addr", c.remoteAddr),
		zap.Int("lost", lost),
		zap.Error(err),
	)
	s.events.Publish(Event{Type: EventConnectionError, ConnID: c.ID, RemoteAddr: c.remoteAddr, Err: err})
}

// onClose 连接关闭，写协程已退出
func (s *Server) onClose(c *Connection, code int, reason string, remote bool) {
	if !s.registry.Unregister(c.ID) {
		return
	}
	s.stats.active.Add(-1)
	s.log.Info("connection closed",
		zap.String("conn_id", c.ID),
		zap.String("remote_addr", c.remoteAddr),
		zap.Int("code", code),
		zap.String("reason", reason),
		zap.Bool("remote", remote),
	)
	s.events.Publish(Event{
		Type:       EventConnectionClosed,
		ConnID:     c.ID,
		RemoteAddr: c.remoteAddr,
		Code:       code,
		Reason:     reason,
		Remote:     remote,
	})
}

// Broadcast 向所有打开的连接发送消息，返回成功入队的连接数
func (s *Server) Broadcast(ctx context.Context, payload string) int {
	sent := 0
	for _, c := range s.registry.Snapshot() {
		if c.State() != StateOpen {
			continue
		}
		if err := c.Send(ctx, payload); err != nil {
			s.stats.dropped.Add(1)
			continue
		}
		sent++
	}
	return sent
}

// Shutdown 优雅关闭
// 停止接入，向所有连接发送 1001，等待排空；ctx 到期后强制关闭剩余连接
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	already := s.closing
	s.closing = true
	s.mu.Unlock()
	if already {
		s.wg.Wait()
		return nil
	}

	s.ready.Store(false)
	conns := s.registry.Snapshot()
	s.log.Info("shutting down websocket server", zap.Int("connections", len(conns)))
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		remaining := s.registry.Snapshot()
		s.log.Warn("grace period expired, force closing", zap.Int("connections", len(remaining)))
		s.cancel()
		for _, c := range remaining {
			c.forceClose()
		}
		<-done
	}

	s.cancel()
	s.events.Close()
	return err
}

// Ping 健康检查：已就绪且存储可达
func (s *Server) Ping(ctx context.Context) error {
	if !s.ready.Load() {
		if err := s.StartErr(); err != nil {
			return err
		}
		return ErrNotReady
	}
	if s.gateway != nil {
		return s.gateway.Ping(ctx)
	}
	return nil
}

// Subscribe 订阅事件
func (s *Server) Subscribe(eventType EventType, handler EventHandler) {
	s.events.Subscribe(eventType, handler)
}

// Registry 连接注册表
func (s *Server) Registry() *Registry {
	return s.registry
}

// Stats 计数快照
func (s *Server) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// Dispatcher 消息分发器
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}
