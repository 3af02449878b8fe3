package harness

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tokmz/wsecho/pkg/logger"
)

// DefaultMessageFormat 默认消息格式，%c 为连接序号，%m 为消息序号
const DefaultMessageFormat = "Hello, WebSocket server! From client %c"

// Config 压测配置
type Config struct {
	URL                   string        `mapstructure:"url"`
	Connections           int           `mapstructure:"connections"`             // 连接总数
	MessagesPerConnection int           `mapstructure:"messages_per_connection"` // 每个连接发送的消息数
	Concurrency           int           `mapstructure:"concurrency"`             // 同时进行的连接会话上限
	Timeout               time.Duration `mapstructure:"timeout"`                 // 整体超时，0 表示不限
	HandshakeTimeout      time.Duration `mapstructure:"handshake_timeout"`       // 握手超时
	ResponseTimeout       time.Duration `mapstructure:"response_timeout"`        // 单条响应超时
	MessageFormat         string        `mapstructure:"message_format"`

	Logger logger.Logger `mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		URL:                   "ws://127.0.0.1:8080/ws",
		Connections:           100,
		MessagesPerConnection: 1,
		Concurrency:           50,
		Timeout:               30 * time.Second,
		HandshakeTimeout:      5 * time.Second,
		ResponseTimeout:       5 * time.Second,
		MessageFormat:         DefaultMessageFormat,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("invalid websocket url: %q", c.URL))
	}
	if c.Connections <= 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("Connections must be positive, got %d", c.Connections))
	}
	if c.MessagesPerConnection < 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("MessagesPerConnection must not be negative, got %d", c.MessagesPerConnection))
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("Concurrency must be positive, got %d", c.Concurrency))
	}
	if c.HandshakeTimeout <= 0 || c.ResponseTimeout <= 0 {
		return ErrInvalidConfig.WithMessage("HandshakeTimeout and ResponseTimeout must be positive")
	}
	return nil
}

// FormatMessage 生成第 client 个连接（从 1 开始）的第 msg 条消息
func FormatMessage(format string, client, msg int) string {
	if format == "" {
		format = DefaultMessageFormat
	}
	return strings.NewReplacer(
		"%c", strconv.Itoa(client),
		"%m", strconv.Itoa(msg),
	).Replace(format)
}
