package store

import (
	"fmt"

	"github.com/tokmz/wsecho/pkg/logger"
	gormlogger "gorm.io/gorm/logger"
)

// zapWriter 将 gorm 日志输出到 logger
type zapWriter struct {
	log logger.Logger
}

func (w zapWriter) Printf(format string, args ...any) {
	w.log.Info(fmt.Sprintf(format, args...))
}

// newGormLogger 创建 GORM 日志记录器
func newGormLogger(cfg *Config, log logger.Logger) gormlogger.Interface {
	return gormlogger.New(
		zapWriter{log: log.Named("gorm")},
		gormlogger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  gormlogger.LogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
