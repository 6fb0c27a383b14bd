package retry

import (
	"fmt"

	"github.com/ceyewan/scribesnap/xerrors"
)

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("retry: config is nil")

	// ErrInvalidAttempts 最大尝试次数必须 >= 1
	ErrInvalidAttempts = xerrors.Wrap(xerrors.ErrInvalidInput, "retry: max attempts must be >= 1")

	// ErrInvalidDelay 退避参数非法
	ErrInvalidDelay = xerrors.Wrap(xerrors.ErrInvalidInput, "retry: invalid delay settings")

	// ErrExhausted 所有 attempt 都以可重试错误失败
	ErrExhausted = xerrors.New("retry: attempts exhausted")

	// ErrNonRetryable 遇到不可重试错误
	ErrNonRetryable = xerrors.New("retry: non-retryable failure")

	// ErrRejected 前置检查拒绝，调用未发生
	ErrRejected = xerrors.New("retry: rejected before attempt")

	// ErrCanceled 等待或执行过程中 context 被取消
	ErrCanceled = xerrors.New("retry: canceled")
)

// Reason 终止原因
type Reason int

const (
	ReasonExhausted Reason = iota
	ReasonNonRetryable
	ReasonRejected
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonExhausted:
		return "exhausted"
	case ReasonNonRetryable:
		return "non_retryable"
	case ReasonRejected:
		return "rejected"
	case ReasonCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (r Reason) sentinel() error {
	switch r {
	case ReasonExhausted:
		return ErrExhausted
	case ReasonNonRetryable:
		return ErrNonRetryable
	case ReasonRejected:
		return ErrRejected
	default:
		return ErrCanceled
	}
}

// Error Do 的终止错误
type Error struct {
	Reason Reason
	// Attempts 实际执行的 attempt 次数，被拒绝的那次不计入
	Attempts int
	// Last 最后一次 attempt 的错误
	Last error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: %s after %d attempt(s): %v", e.Reason, e.Attempts, e.Last)
}

func (e *Error) Unwrap() error {
	return e.Last
}

// Is 使 errors.Is(err, ErrExhausted) 等判断按 Reason 成立
func (e *Error) Is(target error) bool {
	return target == e.Reason.sentinel()
}

// Permanent 将错误标记为不可重试，供 DefaultClassifier 识别
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误链中是否有 Permanent 标记
func IsPermanent(err error) bool {
	var p *permanentError
	return xerrors.As(err, &p)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}
