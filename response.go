package wsecho

import (
	"context"
	"net/http"

	"github.com/tokmz/wsecho/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`               // 业务状态码
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID（可选）
}

// NewResponse 创建响应
func NewResponse(code int, data any, message string) *Response {
	return &Response{
		Code:    code,
		Data:    data,
		Message: message,
	}
}

// WithTraceID 从上下文中提取追踪ID
func (r *Response) WithTraceID(ctx context.Context) *Response {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		r.TraceID = sc.TraceID().String()
	}
	return r
}

// Success 创建成功响应
func Success(data any) *Response {
	return NewResponse(http.StatusOK, data, "success")
}

// Fail 根据错误创建失败响应，返回 HTTP 状态码与响应体
// 非 *errors.Error 按 ErrServer 处理
func Fail(err error) (int, *Response) {
	var e *errors.Error
	if !errors.As(err, &e) {
		e = errors.ErrServer.WithError(err)
		err = e
	}
	status := e.HttpCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return status, NewResponse(e.Code, nil, err.Error())
}
