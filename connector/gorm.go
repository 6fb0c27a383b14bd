package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/xerrors"
)

// poolSettings 连接池参数，零值表示使用驱动默认值
type poolSettings struct {
	maxIdle     int
	maxOpen     int
	maxLifetime time.Duration
}

// gormConnector SQLite、MySQL、PostgreSQL 共用的 GORM 连接管理
type gormConnector struct {
	kind      string
	name      string
	target    string // 仅用于日志，不含密码
	dialector func() gorm.Dialector
	pool      poolSettings
	logger    clog.Logger
	healthy   atomic.Bool

	mu sync.RWMutex
	db *gorm.DB
}

func newGormConnector(kind, name, target string, dialector func() gorm.Dialector, pool poolSettings, opt *options) *gormConnector {
	return &gormConnector{
		kind:      kind,
		name:      name,
		target:    target,
		dialector: dialector,
		pool:      pool,
		logger:    opt.logger.With(clog.String("connector", kind), clog.String("name", name)),
	}
}

// Connect 建立连接
func (c *gormConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	c.logger.Info("attempting to connect to database", clog.String("target", c.target))

	// SQL 日志由 db 组件统一接管，这里保持静默
	db, err := gorm.Open(c.dialector(), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		c.logger.Error("failed to open database", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: %v", c.kind, c.name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: %v", c.kind, c.name, err)
	}
	if c.pool.maxIdle > 0 {
		sqlDB.SetMaxIdleConns(c.pool.maxIdle)
	}
	if c.pool.maxOpen > 0 {
		sqlDB.SetMaxOpenConns(c.pool.maxOpen)
	}
	if c.pool.maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(c.pool.maxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		c.logger.Error("failed to ping database", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: ping failed: %v", c.kind, c.name, err)
	}

	c.db = db
	c.healthy.Store(true)
	c.logger.Info("successfully connected to database", clog.String("target", c.target))
	return nil
}

// Close 关闭连接
func (c *gormConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	if c.db == nil {
		return nil
	}

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		c.logger.Error("failed to close database", clog.Error(err))
		return err
	}
	c.db = nil
	c.logger.Info("database connection closed")
	return nil
}

// HealthCheck 检查连接健康状态
func (c *gormConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrClientNil, "%s connector[%s]", c.kind, c.name)
	}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("database health check failed", clog.Error(err))
		return xerrors.Wrapf(ErrHealthCheck, "%s connector[%s]: %v", c.kind, c.name, err)
	}

	c.healthy.Store(true)
	return nil
}

func (c *gormConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *gormConnector) Name() string {
	return c.name
}

func (c *gormConnector) GetClient() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}
