package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// NewTracerProvider 创建 TracerProvider 并注册为全局 Provider 与 W3C 传播器
// 调用方负责在退出时 Shutdown，确保缓冲的 Span 导出完成
func NewTracerProvider(cfg *Config) (*trace.TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exporterType := cfg.ExporterType
	if !cfg.Enabled {
		exporterType = "noop"
	}
	exporter, err := newExporter(context.Background(), exporterType, cfg)
	if err != nil {
		return nil, ErrExporter.WithError(err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, ErrExporter.WithMessage("tracing: build resource").WithError(err)
	}

	tp := trace.NewTracerProvider(
		trace.WithSampler(newSampler(cfg)),
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(cfg.BatchTimeout),
			trace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			trace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// newResource 服务信息；OTEL_RESOURCE_ATTRIBUTES 与 OTEL_SERVICE_NAME 覆盖配置
func newResource(cfg *Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		))
	}
	attrs = append(attrs, resource.WithFromEnv(), resource.WithHost(), resource.WithTelemetrySDK())
	return resource.New(context.Background(), attrs...)
}

// newSampler 根据采样类型创建采样器，未知类型按 parent_based 处理
func newSampler(cfg *Config) trace.Sampler {
	switch cfg.SamplingType {
	case "always":
		return trace.AlwaysSample()
	case "never":
		return trace.NeverSample()
	case "ratio":
		return trace.TraceIDRatioBased(cfg.SamplingRate)
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRate))
	}
}
