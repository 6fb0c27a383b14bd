package breaker

import (
	"fmt"
	"time"

	"github.com/ceyewan/scribesnap/xerrors"
)

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrInvalidThreshold 失败阈值必须 >= 1
	ErrInvalidThreshold = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: failure threshold must be >= 1")

	// ErrInvalidTimeout 恢复时间不能为负数
	ErrInvalidTimeout = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: recovery timeout must not be negative")

	// ErrUnknownDriver 未知驱动
	ErrUnknownDriver = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: unknown driver")

	// ErrOpen 熔断器拒绝了调用（Open，或 HalfOpen 时已有探测在进行中）
	ErrOpen = xerrors.New("breaker: circuit breaker is open")
)

// OpenError 熔断拒绝，携带建议的重试等待时间
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("breaker: %s is open, retry after %s", e.Name, e.RetryAfter)
}

// Is 使 errors.Is(err, ErrOpen) 成立
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// RetryAfter 从错误链中提取熔断拒绝的建议等待时间
func RetryAfter(err error) (time.Duration, bool) {
	var openErr *OpenError
	if xerrors.As(err, &openErr) {
		return openErr.RetryAfter, true
	}
	return 0, false
}
