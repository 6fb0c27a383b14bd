package connector

import "github.com/ceyewan/scribesnap/xerrors"

// 连接器哨兵错误
var (
	ErrConfig      = xerrors.Wrap(xerrors.ErrInvalidInput, "connector: invalid config")
	ErrClientNil   = xerrors.New("connector: client is nil")
	ErrConnection  = xerrors.Wrap(xerrors.ErrUnavailable, "connector: connection failed")
	ErrHealthCheck = xerrors.Wrap(xerrors.ErrUnavailable, "connector: health check failed")
)
