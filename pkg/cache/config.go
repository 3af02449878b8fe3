package cache

import "time"

// DriverType 驱动类型
type DriverType string

const (
	DriverMemory DriverType = "memory"
	DriverRedis  DriverType = "redis"
)

// Config 缓存配置
type Config struct {
	Driver DriverType `mapstructure:"driver"`

	Redis  *RedisConfig  `mapstructure:"redis"`
	Memory *MemoryConfig `mapstructure:"memory"`

	Serializer Serializer `mapstructure:"-"`

	// 键前缀，多个实例共用一个 Redis 时区分
	KeyPrefix string `mapstructure:"key_prefix"`

	// 默认 TTL；计数缓存的 TTL 即可接受的计数陈旧时间
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// RedisConfig Redis 配置
// 单个地址为单机，多个地址为集群，设置 MasterName 时为哨兵
type RedisConfig struct {
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MemoryConfig 内存缓存配置
type MemoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DefaultConfig 返回默认配置：内存驱动，计数缓存 1 秒
func DefaultConfig() *Config {
	return &Config{
		Driver:     DriverMemory,
		Serializer: JSONSerializer{},
		KeyPrefix:  "wsecho:",
		DefaultTTL: time.Second,
		Memory:     &MemoryConfig{CleanupInterval: time.Minute},
		Redis: &RedisConfig{
			Addrs:        []string{"localhost:6379"},
			PoolSize:     20,
			DialTimeout:  time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return ErrCacheInvalidConfig.WithMessage("cache: default_ttl must be positive")
	}
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverRedis:
		if c.Redis == nil || len(c.Redis.Addrs) == 0 {
			return ErrCacheInvalidConfig.WithMessage("cache: redis addrs required")
		}
		return nil
	default:
		return ErrCacheInvalidConfig.WithMessage("cache: unsupported driver " + string(c.Driver))
	}
}
