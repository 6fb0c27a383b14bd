package ratelimit

import "github.com/ceyewan/scribesnap/xerrors"

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("ratelimit: config is nil")

	// ErrConnectorNil redis 驱动缺少连接器
	ErrConnectorNil = xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit: redis connector is nil")

	// ErrKeyEmpty 限流键为空
	ErrKeyEmpty = xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit: key is empty")

	// ErrInvalidLimit 限流配置无效
	ErrInvalidLimit = xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit: invalid limit")

	// ErrBackend 限流后端执行失败
	ErrBackend = xerrors.Wrap(xerrors.ErrUnavailable, "ratelimit: backend failure")
)
