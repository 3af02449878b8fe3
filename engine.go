package wsecho

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/wsecho/middleware"
	"github.com/tokmz/wsecho/pkg/cache"
	"github.com/tokmz/wsecho/pkg/logger"
	"github.com/tokmz/wsecho/pkg/store"
	"github.com/tokmz/wsecho/pkg/tracing"
	"github.com/tokmz/wsecho/pkg/ws"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Engine 进程级装配：HTTP 入口、WebSocket 服务与存储
type Engine struct {
	config  *Config
	engine  *gin.Engine
	server  *http.Server
	ws      *ws.Server
	gateway store.Gateway
	log     logger.Logger
	tp      *sdktrace.TracerProvider
}

// Option 装配选项
type Option func(*Engine)

// WithLogger 使用外部日志实例，不再按 Config.Log 构建
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithGateway 使用外部存储网关，不再按 Config.Store 打开数据库
// 网关的关闭由 Engine 负责
func WithGateway(gw store.Gateway) Option {
	return func(e *Engine) {
		e.gateway = gw
	}
}

// New 按配置装配 Engine
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{config: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.log == nil {
		log, err := cfg.Log.Build()
		if err != nil {
			return nil, err
		}
		e.log = log
	}

	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		tp, err := tracing.NewTracerProvider(cfg.Tracing)
		if err != nil {
			return nil, err
		}
		e.tp = tp
	}

	if e.gateway == nil {
		gw, err := store.New(cfg.Store, e.log)
		if err != nil {
			e.release(context.Background())
			return nil, err
		}
		e.gateway = gw
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(&cfg.Cache.Config)
		if err != nil {
			e.release(context.Background())
			return nil, err
		}
		if e.tp != nil {
			c = cache.NewTracing(c)
		}
		e.gateway = store.NewCachedGateway(e.gateway, c, cfg.Cache.DefaultTTL)
	}

	wsCfg := cfg.WS
	if wsCfg == nil {
		wsCfg = ws.DefaultConfig()
	}
	wsCfg.Logger = e.log
	srv, err := ws.NewServerWithConfig(wsCfg, e.gateway)
	if err != nil {
		e.release(context.Background())
		return nil, err
	}
	e.ws = srv

	e.engine = e.routes()
	return e, nil
}

// routes 注册 HTTP 路由
func (e *Engine) routes() *gin.Engine {
	if gin.Mode() == gin.DebugMode || e.config.Mode != gin.DebugMode {
		gin.SetMode(e.config.Mode)
	}
	silenceGin()

	r := gin.New()
	r.Use(gin.Recovery())
	if e.config.Server.TrustedProxies != nil {
		if err := r.SetTrustedProxies(e.config.Server.TrustedProxies); err != nil {
			e.log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}

	if e.tp != nil {
		r.Use(tracing.Middleware(tracing.WithFilter(func(c *gin.Context) bool {
			return c.FullPath() != "/healthz"
		})))
	}
	r.Use(middleware.Logger(e.log, &middleware.LoggerConfig{
		ExcludePaths: []string{"/healthz"},
	}))

	upgrade := []gin.HandlerFunc{e.handleUpgrade}
	if e.config.Server.HandshakeLimit != nil {
		upgrade = append([]gin.HandlerFunc{middleware.RateLimiter(e.log, e.config.Server.HandshakeLimit)}, upgrade...)
	}
	r.GET("/ws", upgrade...)
	r.GET("/healthz", e.handleHealth)
	r.GET("/stats", e.handleStats)
	return r
}

// handleUpgrade 交给 ws.Server 完成握手，错误响应已由其写回
func (e *Engine) handleUpgrade(c *gin.Context) {
	if err := e.ws.HandleUpgrade(c.Writer, c.Request); err != nil {
		_ = c.Error(err)
	}
}

func (e *Engine) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := e.ws.Ping(ctx); err != nil {
		status, resp := Fail(err)
		c.JSON(status, resp.WithTraceID(ctx))
		return
	}
	c.JSON(http.StatusOK, Success(gin.H{"status": "ok"}).WithTraceID(ctx))
}

// connectionInfo /stats 中的单个连接
type connectionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	AcceptedAt time.Time `json:"accepted_at"`
	State      string    `json:"state"`
	Messages   int64     `json:"messages"`
}

func (e *Engine) handleStats(c *gin.Context) {
	snapshot := e.ws.Registry().Snapshot()
	conns := make([]connectionInfo, 0, len(snapshot))
	for _, conn := range snapshot {
		conns = append(conns, connectionInfo{
			ID:         conn.ID,
			RemoteAddr: conn.RemoteAddr(),
			AcceptedAt: conn.AcceptedAt(),
			State:      conn.State().String(),
			Messages:   conn.Messages(),
		})
	}
	c.JSON(http.StatusOK, Success(gin.H{
		"stats":       e.ws.Stats(),
		"connections": conns,
	}).WithTraceID(c.Request.Context()))
}

// Handler 返回 HTTP 处理器
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// WS 返回 WebSocket 服务
func (e *Engine) WS() *ws.Server {
	return e.ws
}

// Logger 返回日志实例
func (e *Engine) Logger() logger.Logger {
	return e.log
}

// Run 初始化存储并启动 HTTP 服务，收到 SIGINT/SIGTERM 或 ctx 取消后优雅关机
// 存储初始化失败时直接返回错误，不开始监听
func (e *Engine) Run(ctx context.Context, addr ...string) error {
	address := e.config.Server.Addr
	if len(addr) > 0 && addr[0] != "" {
		address = addr[0]
	}

	if err := e.ws.OnStart(ctx); err != nil {
		_ = e.Shutdown(context.Background())
		return err
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		_ = e.Shutdown(context.Background())
		return err
	}
	return e.Serve(ctx, ln)
}

// Serve 在给定 listener 上提供服务，调用前需已完成 OnStart
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	e.server = &http.Server{
		Handler:           e.engine,
		ReadHeaderTimeout: e.config.Server.ReadTimeout,
		IdleTimeout:       e.config.Server.IdleTimeout,
		MaxHeaderBytes:    e.config.Server.MaxHeaderBytes,
	}

	e.printBanner(ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		e.log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
	defer cancel()
	return errors.Join(serveErr, e.Shutdown(shutdownCtx))
}

// Shutdown 优雅关机
// 先停止接受新的 HTTP 请求，再关闭所有 WebSocket 连接，最后释放存储与追踪资源
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	if e.server != nil {
		// 已劫持的 WebSocket 连接不受 http.Server.Shutdown 管理
		if err := e.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.ws.Shutdown(ctx); err != nil {
		e.log.Warn("forced websocket shutdown", zap.Error(err))
		errs = append(errs, err)
	}
	e.release(ctx)

	if err := errors.Join(errs...); err != nil {
		return err
	}
	e.log.Info("server exited")
	return nil
}

// release 释放存储、追踪与日志资源
func (e *Engine) release(ctx context.Context) {
	if e.gateway != nil {
		if err := e.gateway.Close(); err != nil {
			e.log.Warn("close store failed", zap.Error(err))
		}
	}
	if e.tp != nil {
		if err := e.tp.Shutdown(ctx); err != nil {
			e.log.Warn("shutdown tracer provider failed", zap.Error(err))
		}
	}
	_ = e.log.Sync()
}
