package connector

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ceyewan/scribesnap/xerrors"
)

// NewPostgreSQL 创建 PostgreSQL 连接器，实际连接在 Connect() 时建立
func NewPostgreSQL(cfg *PostgreSQLConfig, opts ...Option) (PostgreSQLConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "postgresql config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	target := "dsn"
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode, cfg.Timezone)
		target = fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}

	return newGormConnector("postgresql", cfg.Name, target,
		func() gorm.Dialector { return postgres.Open(dsn) },
		poolSettings{maxIdle: cfg.MaxIdleConns, maxOpen: cfg.MaxOpenConns, maxLifetime: cfg.ConnMaxLifetime},
		newOptions(opts)), nil
}
