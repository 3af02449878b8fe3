package config

import "github.com/tokmz/wsecho/pkg/errors"

var (
	ErrConfigNotFound   = errors.New(3001, "config: file not found")
	ErrConfigReadFailed = errors.New(3003, "config: read failed")
)
