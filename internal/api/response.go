package api

import (
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/internal/workflow"
	"github.com/ceyewan/scribesnap/ratelimit"
)

// 错误码
const (
	codeValidation   = "validation_error"
	codeNotFound     = "not_found"
	codeRateLimited  = "rate_limit_exceeded"
	codeUnavailable  = "service_unavailable"
	codeExtraction   = "llm_service_error"
	codeServerError  = "server_error"
	codeInternal     = "internal_server_error"
	previewMaxLength = 200
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// NoteResponse 笔记详情
type NoteResponse struct {
	ID           string    `json:"id"`
	ImageURL     string    `json:"image_url"`
	ParsedText   string    `json:"parsed_text"`
	CreatedAt    time.Time `json:"created_at"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"error_message"`
	AttemptCount int       `json:"attempt_count"`
}

// NoteListItem 列表中的笔记摘要
type NoteListItem struct {
	ID          string    `json:"id"`
	ImageURL    string    `json:"image_url"`
	TextPreview string    `json:"text_preview"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
}

// NoteListResponse 分页结果
type NoteListResponse struct {
	Notes      []NoteListItem `json:"notes"`
	TotalCount int64          `json:"total_count"`
	NextCursor *string        `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
}

// ParseResponse 上传成功的响应
type ParseResponse struct {
	Message    string       `json:"message"`
	ParsedText string       `json:"parsed_text"`
	Note       NoteResponse `json:"note"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Services      map[string]string `json:"services"`
}

func imageURL(blobRef string) string {
	return "/api/files/" + blobRef
}

func toNoteResponse(item *store.WorkItem) NoteResponse {
	resp := NoteResponse{
		ID:           item.ID,
		ImageURL:     imageURL(item.BlobRef),
		ParsedText:   item.Result,
		CreatedAt:    item.CreatedAt,
		Status:       string(item.Status),
		AttemptCount: item.AttemptCount,
	}
	if item.ErrorDetail != "" {
		msg := item.ErrorDetail
		resp.ErrorMessage = &msg
	}
	return resp
}

func toListItem(item *store.WorkItem) NoteListItem {
	return NoteListItem{
		ID:          item.ID,
		ImageURL:    imageURL(item.BlobRef),
		TextPreview: preview(item.Result, previewMaxLength),
		CreatedAt:   item.CreatedAt,
		Status:      string(item.Status),
	}
}

// preview 按字符截断，不会切断多字节字符
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// statusOf 失败分类到状态码和错误码的映射
func statusOf(kind workflow.Kind) (int, string) {
	switch kind {
	case workflow.KindValidationFailed:
		return http.StatusBadRequest, codeValidation
	case workflow.KindNotFound:
		return http.StatusNotFound, codeNotFound
	case workflow.KindBreakerOpen:
		return http.StatusServiceUnavailable, codeUnavailable
	case workflow.KindRetryExhausted:
		return http.StatusServiceUnavailable, codeExtraction
	case workflow.KindStorageFailed:
		return http.StatusInternalServerError, codeServerError
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// retryAfterSeconds 向上取整到秒
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

func (h *handler) writeFailure(c *gin.Context, err error) {
	f := workflow.AsFailure(err)
	status, code := statusOf(f.Kind)
	if f.RetryAfter > 0 {
		c.Header(ratelimit.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(f.RetryAfter)))
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			clog.String("kind", f.Kind.String()),
			clog.Error(err))
	}
	writeError(c, status, code, f.Message, f.Details)
}

func writeError(c *gin.Context, status int, code, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		RequestID: c.GetString(requestIDKey),
	})
}

func rejectRateLimited(c *gin.Context, d ratelimit.Decision) {
	writeError(c, http.StatusTooManyRequests, codeRateLimited,
		"Too many requests, please retry later",
		map[string]any{
			"limit":       d.Limit,
			"retry_after": retryAfterSeconds(d.RetryAfter),
		})
}
