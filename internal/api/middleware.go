package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/ratelimit"
)

const (
	// HeaderRequestID 请求 ID 响应头，客户端传入时沿用
	HeaderRequestID = "X-Request-ID"
	// HeaderTotalCount 列表总数响应头
	HeaderTotalCount = "X-Total-Count"

	requestIDKey    = "request_id"
	maxRequestIDLen = 64
)

func recovery(logger clog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "http request panic recovered",
			clog.String("method", c.Request.Method),
			clog.String("path", c.Request.URL.Path),
			clog.Any("panic", recovered))
		writeError(c, http.StatusInternalServerError, codeInternal, "An unexpected error occurred", nil)
	})
}

// requestID 沿用或生成请求 ID，写入响应头和请求 context
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen || strings.ContainsFunc(id, isControl) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(clog.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

func accessLog(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []clog.Field{
			clog.String("method", c.Request.Method),
			clog.String("path", c.Request.URL.Path),
			clog.Int("status", status),
			clog.Duration("duration", time.Since(start)),
			clog.String("client_ip", c.ClientIP()),
			clog.Int("bytes", c.Writer.Size()),
		}
		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "http request", fields...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "http request", fields...)
		default:
			logger.InfoContext(ctx, "http request", fields...)
		}
	}
}

var exposedHeaders = strings.Join([]string{
	HeaderRequestID,
	HeaderTotalCount,
	ratelimit.HeaderRetryAfter,
	ratelimit.HeaderLimit,
	ratelimit.HeaderRemaining,
}, ", ")

// cors 只对允许的来源回写 CORS 头，预检请求直接返回 204
func cors(origins []string) gin.HandlerFunc {
	allowAll := slices.Contains(origins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || (!allowAll && !slices.Contains(origins, origin)) {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", exposedHeaders)

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
