package workflow

import (
	"fmt"
	"time"

	"github.com/ceyewan/scribesnap/xerrors"
)

// Kind 失败分类，边界层据此映射传输层状态码
type Kind int

const (
	KindUnknown Kind = iota
	KindValidationFailed
	KindStorageFailed
	KindBreakerOpen
	KindRetryExhausted
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidationFailed:
		return "validation_failed"
	case KindStorageFailed:
		return "storage_failed"
	case KindBreakerOpen:
		return "breaker_open"
	case KindRetryExhausted:
		return "retry_exhausted"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Failure 流程失败。Message 可以直接返回给调用方，Cause 只用于日志。
type Failure struct {
	Kind    Kind
	Message string
	// RetryAfter BreakerOpen 和 RetryExhausted 时的建议等待时间
	RetryAfter time.Duration
	// Details 可以安全暴露的附加信息
	Details map[string]any
	Cause   error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("workflow: %s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("workflow: %s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// AsFailure 从错误链中取出 *Failure，其他错误包装为 KindUnknown
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if xerrors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindUnknown, Message: msgUnknown, Cause: err}
}

// 对外暴露的消息
const (
	msgUnknown          = "An unexpected error occurred"
	msgStorage          = "Failed to save the uploaded note, please try again"
	msgBreakerOpen      = "Text extraction is temporarily unavailable, please retry later"
	msgRetryExhausted   = "Text extraction failed, please retry later"
	msgNotFound         = "Note not found"
	msgCanceled         = "The request was cancelled before processing finished"
	detailBreakerOpen   = "text extraction service unavailable (circuit open)"
	detailPermanent     = "text extraction rejected the image"
	detailCanceled      = "processing cancelled before completion"
	detailExhaustedFmt  = "text extraction failed after %d attempts"
	detailFinalizeError = "processing failed"
)

func validationFailure(msg string, details map[string]any) *Failure {
	return &Failure{Kind: KindValidationFailed, Message: msg, Details: details}
}
