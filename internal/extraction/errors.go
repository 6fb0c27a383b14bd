package extraction

import (
	"fmt"

	"github.com/ceyewan/scribesnap/xerrors"
)

// Kind 提取失败的分类，决定是否值得重试
type Kind int

const (
	// KindTransient 限流、服务端错误、超时、网络错误
	KindTransient Kind = iota
	// KindPermanent 请求本身有问题，重试不会改变结果
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

var (
	ErrConfigNil     = xerrors.New("extraction: config is nil")
	ErrMissingAPIKey = xerrors.Wrap(xerrors.ErrInvalidInput, "extraction: api key is required")
	ErrUnknownDriver = xerrors.Wrap(xerrors.ErrInvalidInput, "extraction: unknown provider")

	// ErrTransient 匹配所有 KindTransient 的 *Error
	ErrTransient = xerrors.New("extraction: transient failure")
	// ErrPermanent 匹配所有 KindPermanent 的 *Error
	ErrPermanent = xerrors.New("extraction: permanent failure")
)

// Error 提取失败
type Error struct {
	Kind Kind
	// StatusCode 上游 HTTP 状态码，没有响应时为 0
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("extraction: %s failure", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrTransient/ErrPermanent) 按 Kind 匹配
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// Transient 构造可重试错误
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// Permanent 构造不可重试错误
func Permanent(msg string, err error) *Error {
	return &Error{Kind: KindPermanent, Message: msg, Err: err}
}

// IsTransient 判断错误链中是否有可重试的提取错误
func IsTransient(err error) bool {
	return xerrors.Is(err, ErrTransient)
}
