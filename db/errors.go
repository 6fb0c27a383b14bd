package db

import "github.com/ceyewan/scribesnap/xerrors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.Wrap(xerrors.ErrInvalidInput, "db: invalid config")

	// ErrConnectorRequired 所选驱动的连接器未提供
	ErrConnectorRequired = xerrors.Wrap(xerrors.ErrInvalidInput, "db: connector for driver is required")

	// ErrNotConnected 连接器尚未建立连接
	ErrNotConnected = xerrors.New("db: connector is not connected")
)
