package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const gormTracerName = "wsecho.gorm"

// TracingPlugin GORM 链路追踪插件
type TracingPlugin struct {
	enableSQLTrace bool // 是否记录完整 SQL
}

// TracingOption 追踪插件选项
type TracingOption func(*TracingPlugin)

// WithSQLTrace 启用 SQL 语句追踪（可能泄露敏感数据）
func WithSQLTrace(enable bool) TracingOption {
	return func(p *TracingPlugin) {
		p.enableSQLTrace = enable
	}
}

// NewTracingPlugin 创建 GORM 追踪插件
func NewTracingPlugin(opts ...TracingOption) *TracingPlugin {
	p := &TracingPlugin{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 插件名称
func (p *TracingPlugin) Name() string {
	return "wsecho:tracing"
}

// Initialize 注册回调
// 网关只用到建表、写入、查询三类语句
func (p *TracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("wsecho:before_create", p.before("gorm.Create")); err != nil {
		return fmt.Errorf("register create callback: %w", err)
	}
	if err := cb.Create().After("gorm:create").Register("wsecho:after_create", p.after); err != nil {
		return fmt.Errorf("register create callback: %w", err)
	}
	if err := cb.Query().Before("gorm:query").Register("wsecho:before_query", p.before("gorm.Query")); err != nil {
		return fmt.Errorf("register query callback: %w", err)
	}
	if err := cb.Query().After("gorm:query").Register("wsecho:after_query", p.after); err != nil {
		return fmt.Errorf("register query callback: %w", err)
	}
	if err := cb.Raw().Before("gorm:raw").Register("wsecho:before_raw", p.before("gorm.Raw")); err != nil {
		return fmt.Errorf("register raw callback: %w", err)
	}
	if err := cb.Raw().After("gorm:raw").Register("wsecho:after_raw", p.after); err != nil {
		return fmt.Errorf("register raw callback: %w", err)
	}
	return nil
}

// before 开启 Span
// 每次回调时获取 tracer，Provider 晚于插件初始化时也能生效
func (p *TracingPlugin) before(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		ctx, _ = otel.Tracer(gormTracerName).Start(ctx, operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", db.Dialector.Name()),
				attribute.String("db.operation", operation),
			),
		)
		db.Statement.Context = ctx
	}
}

// after 结束 Span
func (p *TracingPlugin) after(db *gorm.DB) {
	span := trace.SpanFromContext(db.Statement.Context)
	if !span.IsRecording() {
		return
	}
	defer span.End()

	if p.enableSQLTrace && db.Statement.SQL.String() != "" {
		span.SetAttributes(attribute.String("db.statement", db.Statement.SQL.String()))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.table", db.Statement.Table))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
