package db

import (
	"time"

	"github.com/ceyewan/scribesnap/xerrors"
)

// 支持的驱动
const (
	DriverSQLite     = "sqlite"
	DriverMySQL      = "mysql"
	DriverPostgreSQL = "postgres"
)

// Config DB 组件配置
type Config struct {
	// Driver 数据库驱动: sqlite | mysql | postgres，默认 sqlite
	Driver string `mapstructure:"driver"`

	// SlowThreshold 慢查询阈值，默认 200ms
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`

	// EnableTracing 注册 otelgorm 插件，为每条 SQL 生成 span
	EnableTracing bool `mapstructure:"enable_tracing"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgreSQL:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported driver: %s", c.Driver)
	}
	if c.SlowThreshold < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "slow threshold must not be negative")
	}
	return nil
}
