package connector

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ceyewan/scribesnap/xerrors"
)

// NewSQLite 创建 SQLite 连接器，实际连接在 Connect() 时建立
func NewSQLite(cfg *SQLiteConfig, opts ...Option) (SQLiteConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "sqlite config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	path := cfg.Path
	// SQLite 单写者，连接池限制为 1 避免 database is locked
	pool := poolSettings{maxOpen: 1}
	return newGormConnector("sqlite", cfg.Name, path,
		func() gorm.Dialector { return sqlite.Open(path) },
		pool, newOptions(opts)), nil
}
