package workflow

import "github.com/ceyewan/scribesnap/xerrors"

// 初始化错误
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("workflow: config is nil")

	// ErrMissingDependency 缺少必需的依赖组件
	ErrMissingDependency = xerrors.Wrap(xerrors.ErrInvalidInput, "workflow: missing dependency")

	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = xerrors.Wrap(xerrors.ErrInvalidInput, "workflow: invalid config")
)
