package ws

import "github.com/tokmz/wsecho/pkg/errors"

// 错误定义
var (
	// 连接相关错误
	ErrCapacityExceeded = errors.New(errors.CodeCapacityExceeded, "ws: too many connections", 503)
	ErrConnectionExists = errors.New(4005, "ws: connection id already exists", 409)
	ErrConnectionGone   = errors.New(errors.CodeConnectionGone, "ws: connection gone", 410)

	// 收发错误
	ErrSendFailed    = errors.New(errors.CodeSendFailed, "ws: send failed")
	ErrReceiveFailed = errors.New(errors.CodeReceiveFailed, "ws: receive failed")

	// 生命周期错误
	ErrStartupInitFailed = errors.New(errors.CodeStartupInitFailed, "ws: startup init failed", 503)
	ErrServerClosed      = errors.New(4006, "ws: server shutting down", 503)
	ErrNotReady          = errors.New(4007, "ws: server not ready", 503)

	// 配置相关错误
	ErrInvalidConfig = errors.New(4008, "ws: invalid config")
)
