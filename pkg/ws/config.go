package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tokmz/wsecho/pkg/logger"
)

// Config WebSocket 服务配置
type Config struct {
	// 连接配置
	MaxConnections   int           `mapstructure:"max_connections"`   // 最大连接数，0 表示不限
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize  int           `mapstructure:"write_buffer_size"` // 写缓冲区大小
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"` // 握手超时时间
	MaxMessageSize   int64         `mapstructure:"max_message_size"`  // 最大消息大小
	WriteWait        time.Duration `mapstructure:"write_wait"`        // 单帧写超时

	// 心跳配置
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // 心跳间隔
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`  // 心跳超时

	// 发送队列大小，写满时发送方等待
	SendQueueSize int `mapstructure:"send_queue_size"`

	// 回显策略: echo, counting_echo
	PolicyName string `mapstructure:"policy"`
	// 单条消息存储调用超时
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	// 启动时写入的种子数据条数
	SeedCount int `mapstructure:"seed_count"`
	// 连接建立后发送的欢迎语，空表示不发送
	Greeting string `mapstructure:"greeting"`

	// Origin 白名单，为空时允许所有来源
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	EnableCompression bool     `mapstructure:"enable_compression"`

	// 事件总线 worker 数
	EventWorkers int `mapstructure:"event_workers"`

	Policy Policy        `mapstructure:"-"`
	Logger logger.Logger `mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		HandshakeTimeout:  10 * time.Second,
		MaxMessageSize:    512 * 1024, // 512KB
		WriteWait:         10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		SendQueueSize:     256,
		PolicyName:        PolicyCountingEcho,
		StoreTimeout:      3 * time.Second,
		SeedCount:         10,
		EventWorkers:      4,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections < 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("MaxConnections must not be negative, got %d", c.MaxConnections))
	}
	if c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0 {
		return ErrInvalidConfig.WithMessage("buffer sizes must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("HandshakeTimeout must be positive, got %v", c.HandshakeTimeout))
	}
	if c.MaxMessageSize <= 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("MaxMessageSize must be positive, got %d", c.MaxMessageSize))
	}
	if c.WriteWait <= 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("WriteWait must be positive, got %v", c.WriteWait))
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval))
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.SendQueueSize <= 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("SendQueueSize must be positive, got %d", c.SendQueueSize))
	}
	if c.SeedCount < 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("SeedCount must not be negative, got %d", c.SeedCount))
	}
	if c.EventWorkers <= 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("EventWorkers must be positive, got %d", c.EventWorkers))
	}
	if c.Policy == nil {
		if _, err := PolicyByName(c.PolicyName); err != nil {
			return err
		}
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeat 设置心跳间隔与超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithMessageSizeLimit 设置消息大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithSendQueueSize 设置发送队列大小
func WithSendQueueSize(size int) Option {
	return func(c *Config) {
		c.SendQueueSize = size
	}
}

// WithPolicy 设置回显策略
func WithPolicy(p Policy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

// WithSeedCount 设置种子数据条数
func WithSeedCount(n int) Option {
	return func(c *Config) {
		c.SeedCount = n
	}
}

// WithGreeting 设置欢迎语
func WithGreeting(greeting string) Option {
	return func(c *Config) {
		c.Greeting = greeting
	}
}

// WithStoreTimeout 设置单条消息的存储调用超时
func WithStoreTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.StoreTimeout = d
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.AllowedOrigins = allowedOrigins
	}
}

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 非浏览器客户端不带 Origin
			return true
		}
		return whitelist[origin]
	}
}

// newUpgrader 创建升级器
// 服务不做认证，未配置白名单时接受所有来源
func newUpgrader(c *Config) *websocket.Upgrader {
	checkOrigin := func(*http.Request) bool { return true }
	if len(c.AllowedOrigins) > 0 {
		checkOrigin = createWhitelistChecker(c.AllowedOrigins)
	}

	return &websocket.Upgrader{
		HandshakeTimeout:  c.HandshakeTimeout,
		ReadBufferSize:    c.ReadBufferSize,
		WriteBufferSize:   c.WriteBufferSize,
		CheckOrigin:       checkOrigin,
		EnableCompression: c.EnableCompression,
	}
}
