// Package api 暴露 scribesnap 的 HTTP 接口。
//
// 路由：
//
//	POST /api/parse          上传图片并提取文本
//	GET  /api/notes          分页列出笔记
//	GET  /api/notes/:id      读取单条笔记
//	GET  /api/files/*path    读取上传的原图
//	GET  /health             健康检查
//	GET  /metrics            Prometheus 指标
//
// 中间件按顺序执行：panic 恢复、请求 ID、链路追踪、访问日志、RED 指标、CORS、限流。
// 所有错误响应都是 {error, message, details, request_id}。
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/internal/blob"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/internal/workflow"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/ratelimit"
	"github.com/ceyewan/scribesnap/trace"
	"github.com/ceyewan/scribesnap/xerrors"
)

// Notes 笔记业务入口，由 workflow.Orchestrator 实现
type Notes interface {
	Process(ctx context.Context, up workflow.Upload) (*store.WorkItem, error)
	Get(ctx context.Context, id string) (*store.WorkItem, error)
	List(ctx context.Context, q workflow.Query) (*store.ListResult, error)
	Health(ctx context.Context) workflow.Health
}

var _ Notes = (*workflow.Orchestrator)(nil)

// Config HTTP 接口配置
type Config struct {
	// ServiceName 用于链路追踪和指标，默认 "scribesnap"
	ServiceName string `mapstructure:"service_name"`

	// Version 健康检查返回的版本号
	Version string `mapstructure:"version"`

	// CORSOrigins 允许跨域的来源，"*" 表示全部
	CORSOrigins []string `mapstructure:"cors_origins"`

	// MaxUploadSize 上传文件上限（字节），默认 10MB，请求体上限在此基础上额外预留 1MB
	MaxUploadSize int64 `mapstructure:"max_upload_size"`

	// FileCacheMaxAge 原图的缓存时间，默认 24h
	FileCacheMaxAge time.Duration `mapstructure:"file_cache_max_age"`

	// NoteCacheMaxAge 已完成笔记的缓存时间，默认 1h
	NoteCacheMaxAge time.Duration `mapstructure:"note_cache_max_age"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "scribesnap"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 10 * 1024 * 1024
	}
	if c.FileCacheMaxAge <= 0 {
		c.FileCacheMaxAge = 24 * time.Hour
	}
	if c.NoteCacheMaxAge <= 0 {
		c.NoteCacheMaxAge = time.Hour
	}
}

// Dependencies HTTP 层依赖，Limiter 可选
type Dependencies struct {
	Notes   Notes
	Blobs   blob.Store
	Limiter ratelimit.Limiter
}

var (
	ErrConfigNil         = xerrors.New("api: config is nil")
	ErrMissingDependency = xerrors.Wrap(xerrors.ErrInvalidInput, "api: missing dependency")
)

// Option HTTP 层选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 设置 Logger，自动添加 "api" namespace
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("api")
		}
	}
}

// WithMeter 设置指标收集器，同时用于 /metrics
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

type handler struct {
	cfg     Config
	notes   Notes
	blobs   blob.Store
	logger  clog.Logger
	started time.Time
}

// New 创建 gin 路由
func New(cfg *Config, deps Dependencies, opts ...Option) (*gin.Engine, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if deps.Notes == nil {
		return nil, xerrors.Wrap(ErrMissingDependency, "notes")
	}
	if deps.Blobs == nil {
		return nil, xerrors.Wrap(ErrMissingDependency, "blob store")
	}
	c := *cfg
	c.setDefaults()

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}

	httpMetrics, err := metrics.NewHTTPServerMetrics(o.meter, &metrics.HTTPConfig{Service: c.ServiceName})
	if err != nil {
		return nil, xerrors.Wrap(err, "api: create http metrics")
	}

	h := &handler{
		cfg:     c,
		notes:   deps.Notes,
		blobs:   deps.Blobs,
		logger:  o.logger,
		started: time.Now(),
	}

	r := gin.New()
	r.Use(recovery(o.logger))
	r.Use(requestID())
	r.Use(trace.GinMiddleware(c.ServiceName, "/health", "/metrics"))
	r.Use(accessLog(o.logger))
	r.Use(httpMetrics.GinMiddleware())
	r.Use(cors(c.CORSOrigins))
	if deps.Limiter != nil {
		r.Use(ratelimit.GinMiddleware(deps.Limiter, &ratelimit.GinMiddlewareOptions{
			OnReject: rejectRateLimited,
			Logger:   o.logger,
		}))
	}

	apiGroup := r.Group("/api")
	apiGroup.POST("/parse", h.parse)
	apiGroup.GET("/notes", h.listNotes)
	apiGroup.GET("/notes/:id", h.getNote)
	apiGroup.GET("/files/*path", h.serveFile)

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(o.meter.Handler()))

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, codeNotFound, "Resource not found", nil)
	})
	return r, nil
}
