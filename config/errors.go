package config

import "github.com/ceyewan/scribesnap/xerrors"

// 错误定义
var (
	// ErrValidationFailed 配置验证失败
	ErrValidationFailed = xerrors.Wrap(xerrors.ErrInvalidInput, "config: validation failed")

	// ErrUnsupportedType 不支持的配置文件类型
	ErrUnsupportedType = xerrors.New("config: unsupported file type")

	// ErrNotLoaded 尚未调用 Load
	ErrNotLoaded = xerrors.New("config: not loaded")
)

// IsNotFound 检查错误是否为配置未找到
func IsNotFound(err error) bool {
	return xerrors.Is(err, xerrors.ErrNotFound)
}

// IsInvalidInput 检查错误是否为配置格式无效或验证失败
func IsInvalidInput(err error) bool {
	return xerrors.Is(err, xerrors.ErrInvalidInput)
}

// WrapValidationError 包装验证错误，结果同时匹配 ErrValidationFailed
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return xerrors.Join(ErrValidationFailed, err)
}

// WrapLoadError 包装加载错误
func WrapLoadError(err error, message string) error {
	if err == nil {
		return nil
	}
	return xerrors.Wrapf(err, "config: failed to load %s", message)
}
