package store

import "time"

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 存储配置
type Config struct {
	// 数据库类型: mysql, postgres, sqlite, sqlserver
	Type DBType `mapstructure:"type"`

	// 数据源名称
	DSN string `mapstructure:"dsn"`

	// 连接池配置
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// 预编译语句
	PrepareStmt bool `mapstructure:"prepare_stmt"`

	// 日志级别 (1:Silent 2:Error 3:Warn 4:Info)
	LogLevel      int           `mapstructure:"log_level"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`

	// 表名前缀
	TablePrefix string `mapstructure:"table_prefix"`

	// 链路追踪
	Tracing  bool `mapstructure:"tracing"`
	SQLTrace bool `mapstructure:"sql_trace"` // 记录完整 SQL

	// 读写分离配置（可选）
	ReadWriteSplit *ReadWriteSplitConfig `mapstructure:"read_write_split"`
}

// ReadWriteSplitConfig 读写分离配置
// CountRecords 走从库，建表和写入走主库
type ReadWriteSplitConfig struct {
	Sources []string `mapstructure:"sources"` // 从库 DSN 列表
	Policy  string   `mapstructure:"policy"`  // random, round_robin

	// 从库连接池配置，不设置则使用主库配置
	MaxIdleConns *int `mapstructure:"max_idle_conns"`
	MaxOpenConns *int `mapstructure:"max_open_conns"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Type:            PostgreSQL,
		DSN:             "host=localhost port=5432 user=postgres password=passw dbname=postgres sslmode=disable",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		PrepareStmt:     true,
		LogLevel:        3, // Warn
		SlowThreshold:   200 * time.Millisecond,
	}
}
