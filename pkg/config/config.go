// Package config 基于 viper 的配置加载：默认值、配置文件、环境变量，以及文件变更监听
package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 配置管理器
// 优先级：环境变量 > 配置文件 > 默认值
type Config struct {
	viper *viper.Viper
	mu    sync.RWMutex

	configFile string
	defaults   map[string]any

	envPrefix      string
	envKeyReplacer *strings.Replacer

	autoWatch bool
	watching  bool
	onChange  func()
}

// New 创建配置管理器
func New(opts ...Option) *Config {
	c := &Config{viper: viper.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 加载配置；未指定配置文件时只使用默认值与环境变量
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.defaults {
		c.viper.SetDefault(k, v)
	}

	if c.envPrefix != "" {
		c.viper.SetEnvPrefix(c.envPrefix)
		replacer := c.envKeyReplacer
		if replacer == nil {
			// server.addr -> PREFIX_SERVER_ADDR
			replacer = strings.NewReplacer(".", "_")
		}
		c.viper.SetEnvKeyReplacer(replacer)
		c.viper.AutomaticEnv()
	}

	if c.configFile == "" {
		return nil
	}

	c.viper.SetConfigFile(c.configFile)
	if err := c.viper.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrConfigNotFound.WithMessage("config: file not found: " + c.configFile).WithError(err)
		}
		return ErrConfigReadFailed.WithError(err)
	}

	if c.autoWatch {
		c.watch()
	}
	return nil
}

// watch 监听配置文件，写入或重建时回调；调用方持有 mu
func (c *Config) watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.mu.RLock()
		watching, onChange := c.watching, c.onChange
		c.mu.RUnlock()

		if !watching || onChange == nil || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		onChange()
	})
	c.viper.WatchConfig()
	c.watching = true
}

// IsWatching 是否正在监听
func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}

// GetString 获取字符串配置值
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetString(key)
}

// ConfigFileUsed 返回实际读取的配置文件
func (c *Config) ConfigFileUsed() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.ConfigFileUsed()
}

// Unmarshal 反序列化到结构体，字段使用 mapstructure 标签
func (c *Config) Unmarshal(rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.Unmarshal(rawVal)
}

// UnmarshalKey 反序列化指定 key 到结构体
func (c *Config) UnmarshalKey(key string, rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.UnmarshalKey(key, rawVal)
}

// Close 停止回调
// viper 不提供停止底层 fsnotify watcher 的方法，关闭后回调不再生效
func (c *Config) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}
