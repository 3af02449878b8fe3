package tracing

import (
	"time"

	"github.com/tokmz/wsecho/pkg/errors"
)

// 预定义错误
var (
	ErrInvalidConfig = errors.New(4401, "tracing: invalid config")
	ErrExporter      = errors.New(4402, "tracing: create exporter failed")
)

// Config 链路追踪配置
type Config struct {
	// 服务名称（必填）
	ServiceName string `mapstructure:"service_name"`

	// 服务版本
	ServiceVersion string `mapstructure:"service_version"`

	// 环境（dev/staging/prod）
	Environment string `mapstructure:"environment"`

	// 导出器类型（otlp/otlpgrpc/stdout/noop）
	ExporterType string `mapstructure:"exporter"`

	// 导出器端点（如 OTLP Collector 地址）
	ExporterEndpoint string `mapstructure:"endpoint"`

	// 导出器请求头（用于认证）
	ExporterHeaders map[string]string `mapstructure:"headers"`

	// 是否使用非 TLS 连接
	Insecure bool `mapstructure:"insecure"`

	// 采样率（0.0-1.0）
	SamplingRate float64 `mapstructure:"sampling_rate"`

	// 采样类型（always/never/ratio/parent_based）
	SamplingType string `mapstructure:"sampling_type"`

	// 是否启用
	Enabled bool `mapstructure:"enabled"`

	// 批处理配置
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
}

// DefaultConfig 返回默认配置
// 压测场景下逐消息导出 span 开销明显，默认关闭
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "wsecho",
		ServiceVersion:     "0.1.0",
		Environment:        "development",
		ExporterType:       "noop",
		SamplingRate:       1.0,
		SamplingType:       "parent_based",
		Enabled:            false,
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("tracing: service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessage("tracing: sampling rate must be between 0.0 and 1.0")
	}
	switch c.ExporterType {
	case "otlp", "otlpgrpc", "stdout", "noop":
	default:
		return ErrInvalidConfig.WithMessage("tracing: invalid exporter type " + c.ExporterType)
	}
	if c.BatchTimeout <= 0 || c.MaxExportBatchSize <= 0 || c.MaxQueueSize < c.MaxExportBatchSize {
		return ErrInvalidConfig.WithMessage("tracing: invalid batch settings")
	}
	return nil
}
