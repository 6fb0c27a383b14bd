package db

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/connector"
)

// Option 配置 DB 实例的选项
type Option func(*options)

type options struct {
	logger              clog.Logger
	tracer              trace.TracerProvider
	sqliteConnector     connector.SQLiteConnector
	mysqlConnector      connector.MySQLConnector
	postgresqlConnector connector.PostgreSQLConnector
	silentMode          bool
}

// WithLogger 注入日志记录器，内部会自动添加 namespace: "db"
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("db")
		}
	}
}

// WithTracer 注入 TracerProvider，仅在 EnableTracing 时生效，默认使用全局 Provider
func WithTracer(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithSQLiteConnector 注入 SQLite 连接器
func WithSQLiteConnector(conn connector.SQLiteConnector) Option {
	return func(o *options) {
		o.sqliteConnector = conn
	}
}

// WithMySQLConnector 注入 MySQL 连接器
func WithMySQLConnector(conn connector.MySQLConnector) Option {
	return func(o *options) {
		o.mysqlConnector = conn
	}
}

// WithPostgreSQLConnector 注入 PostgreSQL 连接器
func WithPostgreSQLConnector(conn connector.PostgreSQLConnector) Option {
	return func(o *options) {
		o.postgresqlConnector = conn
	}
}

// WithSilentMode 禁用 SQL 日志输出，适用于测试
func WithSilentMode() Option {
	return func(o *options) {
		o.silentMode = true
	}
}
