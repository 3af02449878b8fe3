package wsecho

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/wsecho/middleware"
	"github.com/tokmz/wsecho/pkg/cache"
	"github.com/tokmz/wsecho/pkg/config"
	"github.com/tokmz/wsecho/pkg/logger"
	"github.com/tokmz/wsecho/pkg/store"
	"github.com/tokmz/wsecho/pkg/tracing"
	"github.com/tokmz/wsecho/pkg/ws"
)

// EnvPrefix 环境变量前缀，如 WSECHO_SERVER_ADDR
const EnvPrefix = "WSECHO"

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string `mapstructure:"addr"`

	// ReadTimeout 读取超时（仅作用于握手前的 HTTP 阶段）
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// IdleTimeout 空闲超时
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// MaxHeaderBytes 最大请求头字节数
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// HandshakeLimit 握手限流，nil 表示不限流
	HandshakeLimit *middleware.RateLimiterConfig `mapstructure:"handshake_limit"`
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机宽限期，超时后强制断开剩余连接
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig 计数缓存配置
type CacheConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	cache.Config `mapstructure:",squash"`
}

// LogConfig 日志配置（文件形式，构建时转换为 logger.Config）
type LogConfig struct {
	Level            string               `mapstructure:"level"`
	Format           string               `mapstructure:"format"`
	Console          bool                 `mapstructure:"console"`
	File             string               `mapstructure:"file"`
	Rotate           *logger.RotateConfig `mapstructure:"rotate"`
	EnableCaller     bool                 `mapstructure:"caller"`
	EnableStacktrace bool                 `mapstructure:"stacktrace"`
}

// Build 创建日志实例
func (c *LogConfig) Build() (logger.Logger, error) {
	level, err := logger.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	format := logger.Format(c.Format)
	if format != "" && !format.IsValid() {
		return nil, fmt.Errorf("invalid log format %q", c.Format)
	}
	return logger.New(&logger.Config{
		Level:            level,
		Format:           format,
		Console:          c.Console,
		File:             c.File,
		Rotate:           c.Rotate,
		EnableCaller:     c.EnableCaller,
		EnableStacktrace: c.EnableStacktrace,
	})
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	Server   ServerConfig   `mapstructure:"server"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`

	WS      *ws.Config      `mapstructure:"ws"`
	Store   *store.Config   `mapstructure:"store"`
	Cache   CacheConfig     `mapstructure:"cache"`
	Log     LogConfig       `mapstructure:"log"`
	Tracing *tracing.Config `mapstructure:"tracing"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode: gin.ReleaseMode,
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		WS:    ws.DefaultConfig(),
		Store: store.DefaultConfig(),
		Cache: CacheConfig{
			Enabled: false,
			Config:  *cache.DefaultConfig(),
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Console: true,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// defaults 注册到 viper 的默认值，环境变量只能覆盖已知键
func defaults() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"mode":                  d.Mode,
		"server.addr":           d.Server.Addr,
		"server.read_timeout":   d.Server.ReadTimeout,
		"server.idle_timeout":   d.Server.IdleTimeout,
		"shutdown.timeout":      d.Shutdown.Timeout,
		"ws.max_connections":    d.WS.MaxConnections,
		"ws.policy":             d.WS.PolicyName,
		"ws.seed_count":         d.WS.SeedCount,
		"ws.store_timeout":      d.WS.StoreTimeout,
		"store.type":            string(d.Store.Type),
		"store.dsn":             d.Store.DSN,
		"cache.enabled":         d.Cache.Enabled,
		"cache.driver":          string(d.Cache.Driver),
		"cache.default_ttl":     d.Cache.DefaultTTL,
		"log.level":             d.Log.Level,
		"log.format":            d.Log.Format,
		"log.console":           d.Log.Console,
		"tracing.enabled":       d.Tracing.Enabled,
		"tracing.exporter":      d.Tracing.ExporterType,
		"tracing.endpoint":      d.Tracing.ExporterEndpoint,
		"tracing.sampling_rate": d.Tracing.SamplingRate,
	}
}

// newManager 创建配置管理器，path 为空时只读默认值与环境变量
func newManager(path string, opts ...config.Option) *config.Config {
	base := []config.Option{
		config.WithDefaults(defaults()),
		config.WithEnvPrefix(EnvPrefix),
		config.WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	}
	if path != "" {
		base = append(base, config.WithConfigFile(path))
	}
	return config.New(append(base, opts...)...)
}

// LoadConfig 从文件与环境变量加载配置
// 未出现在文件中的字段保留 DefaultConfig 的值
func LoadConfig(path string) (*Config, error) {
	mgr := newManager(path)
	defer mgr.Close()

	if err := mgr.Load(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := mgr.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// WatchLogLevel 监听配置文件，变更时重新应用日志级别
// 返回的 stop 用于停止监听
func WatchLogLevel(path string, log logger.Logger) (stop func(), err error) {
	if path == "" {
		return func() {}, nil
	}

	var mgr *config.Config
	mgr = newManager(path,
		config.WithAutoWatch(true),
		config.WithOnChange(func() {
			raw := mgr.GetString("log.level")
			level, err := logger.ParseLevel(raw)
			if err != nil {
				log.Warn("ignore invalid log level on reload")
				return
			}
			if level != log.Level() {
				log.SetLevel(level)
				log.Info("log level reloaded")
			}
		}),
	)
	if err := mgr.Load(); err != nil {
		return nil, err
	}
	return mgr.Close, nil
}
