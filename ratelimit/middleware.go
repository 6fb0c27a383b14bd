package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scribesnap/clog"
)

// 响应头
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderRetryAfter = "Retry-After"
)

// GinMiddlewareOptions Gin 中间件配置
type GinMiddlewareOptions struct {
	// KeyFunc 提取限流键，默认使用客户端 IP；返回空字符串时放行
	KeyFunc func(*gin.Context) string

	// ExemptPaths 完全绕过限流的路径，匹配路径本身及其子路径
	ExemptPaths []string

	// OnReject 被限流时写响应，默认返回 429 和 {error, message, details}
	// 调用前 Retry-After 等响应头已经写好
	OnReject func(*gin.Context, Decision)

	// Logger 记录限流器故障，默认 clog.Discard()
	Logger clog.Logger
}

// DefaultExemptPaths 默认绕过限流的路径：健康检查、文档、指标
var DefaultExemptPaths = []string{"/health", "/docs", "/redoc", "/openapi.json", "/metrics"}

// GinMiddleware 创建 Gin 限流中间件
//
// 限流器出错时放行并记录日志，限流器故障不影响业务。
//
// 使用示例:
//
//	r := gin.New()
//	r.Use(ratelimit.GinMiddleware(limiter, nil))
func GinMiddleware(limiter Limiter, opts *GinMiddlewareOptions) gin.HandlerFunc {
	if opts == nil {
		opts = &GinMiddlewareOptions{}
	}
	keyFunc := opts.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string {
			return c.ClientIP()
		}
	}
	exempt := opts.ExemptPaths
	if exempt == nil {
		exempt = DefaultExemptPaths
	}
	onReject := opts.OnReject
	if onReject == nil {
		onReject = defaultReject
	}
	logger := opts.Logger
	if logger == nil {
		logger = clog.Discard()
	}

	return func(c *gin.Context) {
		if isExempt(c.Request.URL.Path, exempt) {
			c.Next()
			return
		}

		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		d, err := limiter.Admit(c.Request.Context(), key)
		if err != nil {
			logger.WarnContext(c.Request.Context(), "rate limiter unavailable, request allowed",
				clog.String("key", key),
				clog.Error(err))
			c.Next()
			return
		}

		c.Header(HeaderLimit, strconv.Itoa(d.Limit))
		c.Header(HeaderRemaining, strconv.Itoa(d.Remaining))

		if !d.Allowed {
			c.Header(HeaderRetryAfter, strconv.Itoa(int(d.RetryAfter.Seconds())))
			onReject(c, d)
			c.Abort()
			return
		}

		c.Next()
	}
}

func isExempt(path string, exempt []string) bool {
	for _, p := range exempt {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func defaultReject(c *gin.Context, d Decision) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":   "rate_limited",
		"message": "Too many requests, please retry later",
		"details": gin.H{
			"limit":       d.Limit,
			"retry_after": int(d.RetryAfter.Seconds()),
		},
	})
}
