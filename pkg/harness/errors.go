package harness

import "github.com/tokmz/wsecho/pkg/errors"

// Kind 错误类别
type Kind string

const (
	KindHandshakeFailed    Kind = "handshake_failed"
	KindSendFailed         Kind = "send_failed"
	KindReceiveFailed      Kind = "receive_failed"
	KindTimeout            Kind = "timeout"
	KindUnexpectedResponse Kind = "unexpected_response"
	KindCancelled          Kind = "cancelled"
)

var (
	ErrHandshakeFailed = errors.New(errors.CodeHandshakeFailed, "harness: handshake failed")
	ErrSendFailed      = errors.New(errors.CodeSendFailed, "harness: send failed")
	ErrReceiveFailed   = errors.New(errors.CodeReceiveFailed, "harness: receive failed")
	ErrCancelled       = errors.New(4009, "harness: run cancelled")
	ErrInvalidConfig   = errors.New(4010, "harness: invalid config", 400)
)
