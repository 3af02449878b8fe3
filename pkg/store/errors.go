package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"

	"github.com/tokmz/wsecho/pkg/errors"
)

var (
	// ErrStoreUnavailable 存储不可达（连接层失败）
	ErrStoreUnavailable = errors.New(errors.CodeStoreUnavailable, "store unavailable", 503)
	// ErrQueryFailed 语句执行失败
	ErrQueryFailed = errors.New(errors.CodeQueryFailed, "query failed")
	// ErrInvalidConfig 配置错误
	ErrInvalidConfig = errors.New(4103, "invalid store config")
)

// classify 将驱动错误归类为 ErrStoreUnavailable 或 ErrQueryFailed
func classify(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return ErrStoreUnavailable.WithError(err)
	}
	return ErrQueryFailed.WithError(err)
}
