package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scribesnap/xerrors"
)

// HTTP 服务端指标名
const (
	MetricHTTPRequestsTotal   = "http_server_requests_total"
	MetricHTTPRequestDuration = "http_server_request_duration_seconds"
	MetricHTTPRequestBodySize = "http_server_request_body_bytes"
	MetricHTTPInFlight        = "http_server_requests_in_flight"
)

// 标签
const (
	LabelService     = "service"
	LabelMethod      = "method"
	LabelRoute       = "route"
	LabelStatusClass = "status_class"
	LabelOutcome     = "outcome"
)

// 请求结果，限流拒绝单独统计，方便和真正的客户端错误区分
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"
)

// UnknownRoute 未命中路由时的 route 标签，避免原始路径造成高基数
const UnknownRoute = "unknown"

var (
	defaultDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	// 上传体积：16KB .. 50MB
	defaultBodySizeBuckets = []float64{16 << 10, 64 << 10, 256 << 10, 1 << 20, 2 << 20, 5 << 20, 10 << 20, 20 << 20, 50 << 20}
)

// HTTPConfig HTTP 服务端指标配置
type HTTPConfig struct {
	// Service 写入 service 标签
	Service string

	// DurationBuckets 耗时分桶（秒），一次图片转写可能持续数十秒
	DurationBuckets []float64

	// BodySizeBuckets 请求体大小分桶（字节）
	BodySizeBuckets []float64
}

func (c *HTTPConfig) setDefaults() {
	c.Service = strings.TrimSpace(c.Service)
	if c.Service == "" {
		c.Service = "unknown"
	}
	if len(c.DurationBuckets) == 0 {
		c.DurationBuckets = defaultDurationBuckets
	}
	if len(c.BodySizeBuckets) == 0 {
		c.BodySizeBuckets = defaultBodySizeBuckets
	}
}

// HTTPServerMetrics HTTP 服务端 RED 指标
type HTTPServerMetrics struct {
	service  string
	requests Counter
	duration Histogram
	bodySize Histogram
	inFlight Gauge
}

// NewHTTPServerMetrics 在 m 上注册 HTTP 服务端指标
func NewHTTPServerMetrics(m Meter, cfg *HTTPConfig) (*HTTPServerMetrics, error) {
	if m == nil {
		return nil, xerrors.New("metrics: meter is nil")
	}
	c := HTTPConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	requests, err := m.Counter(MetricHTTPRequestsTotal, "Total number of HTTP requests.")
	if err != nil {
		return nil, xerrors.Wrap(err, "metrics: create request counter")
	}
	duration, err := m.Histogram(MetricHTTPRequestDuration, "HTTP request duration in seconds.",
		WithUnit("s"), WithBuckets(c.DurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "metrics: create duration histogram")
	}
	bodySize, err := m.Histogram(MetricHTTPRequestBodySize, "Declared HTTP request body size in bytes.",
		WithUnit("By"), WithBuckets(c.BodySizeBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "metrics: create body size histogram")
	}
	inFlight, err := m.Gauge(MetricHTTPInFlight, "HTTP requests currently being served.")
	if err != nil {
		return nil, xerrors.Wrap(err, "metrics: create in-flight gauge")
	}

	return &HTTPServerMetrics{
		service:  c.Service,
		requests: requests,
		duration: duration,
		bodySize: bodySize,
		inFlight: inFlight,
	}, nil
}

// Observe 记录一次已完成的请求，bodySize <= 0 时不记录体积
func (m *HTTPServerMetrics) Observe(ctx context.Context, method, route string, status int, elapsed time.Duration, bodySize int64) {
	if m == nil {
		return
	}
	if route == "" {
		route = UnknownRoute
	}
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}

	labels := []Label{
		L(LabelService, m.service),
		L(LabelMethod, method),
		L(LabelRoute, route),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	}
	m.requests.Inc(ctx, labels...)
	m.duration.Record(ctx, elapsed.Seconds(), labels...)
	if bodySize > 0 {
		m.bodySize.Record(ctx, float64(bodySize), L(LabelService, m.service), L(LabelRoute, route))
	}
}

// GinMiddleware 记录每个请求的 RED 指标，route 标签取路由模板
func (m *HTTPServerMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		service := L(LabelService, m.service)

		m.inFlight.Inc(ctx, service)
		start := time.Now()
		c.Next()
		m.inFlight.Dec(ctx, service)

		m.Observe(ctx, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start), c.Request.ContentLength)
	}
}

// HTTPStatusClass 返回 1xx..5xx，越界时返回 unknown
func HTTPStatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// HTTPOutcome 将状态码归类为 success / rejected / client_error / server_error
func HTTPOutcome(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return OutcomeRejected
	case status >= 500 || status < 100:
		return OutcomeServerError
	case status >= 400:
		return OutcomeClientError
	default:
		return OutcomeSuccess
	}
}
