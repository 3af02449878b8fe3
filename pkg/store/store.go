// Package store 回显服务的存储网关
//
// 启动时建表并写入种子数据，每条消息可选地查询记录数。
// 所有调用经由 *sql.DB 连接池，可被多个连接并发调用。
package store

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tokmz/wsecho/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

// Gateway 存储网关
type Gateway interface {
	// EnsureSchema 建表，已存在时无操作
	EnsureSchema(ctx context.Context) error
	// Seed 写入 RandomName0..n-1，已存在的名字跳过
	Seed(ctx context.Context, n int) error
	// CountRecords 查询记录数
	CountRecords(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Example 示例表
type Example struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"type:text"`
}

// TableName 固定表名
func (Example) TableName() string {
	return "example"
}

// SeedName 第 i 条种子数据的名字
func SeedName(i int) string {
	return fmt.Sprintf("RandomName%d", i)
}

// GormGateway 基于 GORM 的 Gateway 实现
type GormGateway struct {
	db     *gorm.DB
	log    logger.Logger
	closed atomic.Bool
}

// New 创建 GORM 存储网关
func New(cfg *Config, log logger.Logger) (*GormGateway, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}

	if cfg.DSN == "" {
		return nil, ErrInvalidConfig.WithMessage("dsn is required")
	}

	gormConfig := &gorm.Config{
		PrepareStmt: cfg.PrepareStmt,
		Logger:      newGormLogger(cfg, log),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: cfg.TablePrefix,
		},
		// 启动时由 EnsureSchema 校验可达性
		DisableAutomaticPing: true,
	}

	dialector, err := getDialector(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, ErrStoreUnavailable.WithError(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, ErrStoreUnavailable.WithError(err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if cfg.ReadWriteSplit != nil {
		if err := setupReadWriteSplit(db, cfg); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	if cfg.Tracing {
		if err := db.Use(NewTracingPlugin(WithSQLTrace(cfg.SQLTrace))); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("register tracing plugin: %w", err)
		}
	}

	return NewFromDB(db, log), nil
}

// NewFromDB 使用已有的 *gorm.DB 创建网关
func NewFromDB(db *gorm.DB, log logger.Logger) *GormGateway {
	if log == nil {
		log = logger.NewNop()
	}
	return &GormGateway{db: db, log: log.Named("store")}
}

// DB 返回底层 *gorm.DB
func (g *GormGateway) DB() *gorm.DB {
	return g.db
}

func (g *GormGateway) EnsureSchema(ctx context.Context) error {
	if g.closed.Load() {
		return ErrStoreUnavailable.WithMessage("store closed")
	}
	if err := g.db.WithContext(ctx).AutoMigrate(&Example{}); err != nil {
		return classify(err)
	}
	return nil
}

func (g *GormGateway) Seed(ctx context.Context, n int) error {
	if g.closed.Load() {
		return ErrStoreUnavailable.WithMessage("store closed")
	}
	if n <= 0 {
		return nil
	}

	names := make([]string, n)
	for i := range names {
		names[i] = SeedName(i)
	}

	var existing []string
	if err := g.db.WithContext(ctx).Model(&Example{}).
		Where("name IN ?", names).
		Pluck("name", &existing).Error; err != nil {
		return classify(err)
	}

	have := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		have[name] = struct{}{}
	}

	rows := make([]Example, 0, n)
	for _, name := range names {
		if _, ok := have[name]; !ok {
			rows = append(rows, Example{Name: name})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	if err := g.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return classify(err)
	}
	g.log.InfoContext(ctx, "seed data inserted", zap.Int("rows", len(rows)))
	return nil
}

func (g *GormGateway) CountRecords(ctx context.Context) (int64, error) {
	if g.closed.Load() {
		return 0, ErrStoreUnavailable.WithMessage("store closed")
	}

	var count int64
	if err := g.db.WithContext(ctx).Model(&Example{}).Count(&count).Error; err != nil {
		return 0, classify(err)
	}
	return count, nil
}

func (g *GormGateway) Ping(ctx context.Context) error {
	if g.closed.Load() {
		return ErrStoreUnavailable.WithMessage("store closed")
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return ErrStoreUnavailable.WithError(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ErrStoreUnavailable.WithError(err)
	}
	return nil
}

// Close 关闭连接池，可重复调用
func (g *GormGateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getDialector 根据数据库类型返回对应的 Dialector
func getDialector(dbType DBType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case MySQL:
		return mysql.Open(dsn), nil
	case PostgreSQL, "":
		return postgres.Open(dsn), nil
	case SQLite:
		return sqlite.Open(dsn), nil
	case SQLServer:
		return sqlserver.Open(dsn), nil
	default:
		return nil, ErrInvalidConfig.WithMessage(fmt.Sprintf("unsupported database type: %s", dbType))
	}
}

// setupReadWriteSplit 配置读写分离
func setupReadWriteSplit(db *gorm.DB, cfg *Config) error {
	rwCfg := cfg.ReadWriteSplit
	if len(rwCfg.Sources) == 0 {
		return ErrInvalidConfig.WithMessage("read-write split enabled but no sources provided")
	}

	replicas := make([]gorm.Dialector, 0, len(rwCfg.Sources))
	for _, dsn := range rwCfg.Sources {
		dialector, err := getDialector(cfg.Type, dsn)
		if err != nil {
			return err
		}
		replicas = append(replicas, dialector)
	}

	resolver := dbresolver.Register(dbresolver.Config{
		Replicas: replicas,
		Policy:   getLoadBalancePolicy(rwCfg.Policy),
	})
	if rwCfg.MaxIdleConns != nil {
		resolver.SetMaxIdleConns(*rwCfg.MaxIdleConns)
	}
	if rwCfg.MaxOpenConns != nil {
		resolver.SetMaxOpenConns(*rwCfg.MaxOpenConns)
	}

	if err := db.Use(resolver); err != nil {
		return fmt.Errorf("setup read-write split: %w", err)
	}
	return nil
}

// getLoadBalancePolicy 获取负载均衡策略
func getLoadBalancePolicy(policy string) dbresolver.Policy {
	switch policy {
	case "round_robin":
		return dbresolver.RoundRobinPolicy()
	default:
		return dbresolver.RandomPolicy{}
	}
}
