// Package db 提供基于 GORM 的数据库组件。
//
// db 借用 connector 建立的连接，在其上叠加：
//   - clog 适配的 GORM 日志（慢查询告警、SQL 错误记录）
//   - 可选的 otelgorm 链路追踪插件
//   - 事务辅助方法
//
// 基本使用：
//
//	sqliteConn, _ := connector.NewSQLite(&connector.SQLiteConfig{Path: "scribesnap.db"})
//	_ = sqliteConn.Connect(ctx)
//	defer sqliteConn.Close()
//
//	database, _ := db.New(&db.Config{Driver: db.DriverSQLite},
//		db.WithSQLiteConnector(sqliteConn), db.WithLogger(logger))
//
//	err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
//		return tx.Create(&item).Error
//	})
//
// db 不拥有连接，Close 不会关闭底层连接器。
package db

import (
	"context"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/xerrors"
)

// DB 数据库组件的核心能力
type DB interface {
	// DB 返回绑定 ctx 的 *gorm.DB
	DB(ctx context.Context) *gorm.DB

	// Transaction 执行事务，fn 返回错误时回滚
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error

	// Driver 返回当前驱动名
	Driver() string

	// Close 关闭组件，不关闭底层连接
	Close() error
}

type database struct {
	driver string
	client *gorm.DB
	logger clog.Logger
}

// New 创建数据库组件
func New(cfg *Config, opts ...Option) (DB, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	gormDB, err := opt.client(c.Driver)
	if err != nil {
		return nil, err
	}

	client := gormDB.Session(&gorm.Session{
		Logger: newGormLogger(opt.logger, c.SlowThreshold, opt.silentMode),
	})

	if c.EnableTracing {
		pluginOpts := []otelgorm.Option{otelgorm.WithoutQueryVariables()}
		if opt.tracer != nil {
			pluginOpts = append(pluginOpts, otelgorm.WithTracerProvider(opt.tracer))
		}
		if err := client.Use(otelgorm.NewPlugin(pluginOpts...)); err != nil && !xerrors.Is(err, gorm.ErrRegistered) {
			return nil, xerrors.Wrap(err, "db: register otelgorm plugin")
		}
	}

	opt.logger.Info("database component created",
		clog.String("driver", c.Driver),
		clog.Bool("tracing", c.EnableTracing))

	return &database{
		driver: c.Driver,
		client: client,
		logger: opt.logger,
	}, nil
}

func (o *options) client(driver string) (*gorm.DB, error) {
	var gormDB *gorm.DB
	switch driver {
	case DriverSQLite:
		if o.sqliteConnector == nil {
			return nil, xerrors.Wrap(ErrConnectorRequired, driver)
		}
		gormDB = o.sqliteConnector.GetClient()
	case DriverMySQL:
		if o.mysqlConnector == nil {
			return nil, xerrors.Wrap(ErrConnectorRequired, driver)
		}
		gormDB = o.mysqlConnector.GetClient()
	case DriverPostgreSQL:
		if o.postgresqlConnector == nil {
			return nil, xerrors.Wrap(ErrConnectorRequired, driver)
		}
		gormDB = o.postgresqlConnector.GetClient()
	}
	if gormDB == nil {
		return nil, ErrNotConnected
	}
	return gormDB, nil
}

func (d *database) DB(ctx context.Context) *gorm.DB {
	return d.client.WithContext(ctx)
}

func (d *database) Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return d.client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
}

func (d *database) Driver() string {
	return d.driver
}

func (d *database) Close() error {
	return nil
}
