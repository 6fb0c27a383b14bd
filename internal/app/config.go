package app

import (
	"context"
	"time"

	"github.com/ceyewan/scribesnap/breaker"
	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/config"
	"github.com/ceyewan/scribesnap/connector"
	"github.com/ceyewan/scribesnap/internal/blob"
	"github.com/ceyewan/scribesnap/internal/events"
	"github.com/ceyewan/scribesnap/internal/extraction"
	"github.com/ceyewan/scribesnap/internal/reconcile"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/ratelimit"
	"github.com/ceyewan/scribesnap/retry"
	"github.com/ceyewan/scribesnap/trace"
	"github.com/ceyewan/scribesnap/xerrors"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

// ServiceName 服务名
const ServiceName = "scribesnap"

// Config 应用配置，对应 scribesnap.yaml 的顶层结构
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Log        clog.Config       `mapstructure:"log"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Storage    blob.Config       `mapstructure:"storage"`
	Upload     UploadConfig      `mapstructure:"upload"`
	Extraction extraction.Config `mapstructure:"extraction"`
	Breaker    breaker.Config    `mapstructure:"breaker"`
	Retry      retry.Config      `mapstructure:"retry"`
	RateLimit  RateLimitConfig   `mapstructure:"ratelimit"`
	Redis      connector.RedisConfig `mapstructure:"redis"`
	Reconcile  ReconcileConfig   `mapstructure:"reconcile"`
	Events     EventsConfig      `mapstructure:"events"`
	Cache      store.Config      `mapstructure:"cache"`
	Metrics    metrics.Config    `mapstructure:"metrics"`
	Trace      trace.Config      `mapstructure:"trace"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout 需要覆盖一次完整的提取重试
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig 数据库配置，按 Driver 选择对应的连接配置
type DatabaseConfig struct {
	Driver        string                     `mapstructure:"driver"`
	AutoMigrate   bool                       `mapstructure:"auto_migrate"`
	SlowThreshold time.Duration              `mapstructure:"slow_threshold"`
	EnableTracing bool                       `mapstructure:"enable_tracing"`
	SQLite        connector.SQLiteConfig     `mapstructure:"sqlite"`
	MySQL         connector.MySQLConfig      `mapstructure:"mysql"`
	Postgres      connector.PostgreSQLConfig `mapstructure:"postgres"`
}

// UploadConfig 上传限制
type UploadConfig struct {
	MaxFileSize       int64    `mapstructure:"max_file_size"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	// FinalizeTimeout 调用方断开后写入失败状态的超时
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
}

// RateLimitConfig 入站限流
type RateLimitConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	ratelimit.Config `mapstructure:",squash"`
}

// ReconcileConfig 中断记录回收
type ReconcileConfig struct {
	// Enabled 为 true 时 serve 在后台周期回收
	Enabled          bool `mapstructure:"enabled"`
	reconcile.Config `mapstructure:",squash"`
}

// EventsConfig 终态事件发布
type EventsConfig struct {
	events.Config `mapstructure:",squash"`
	NATS          connector.NATSConfig `mapstructure:"nats"`
}

// Defaults 返回所有配置项的默认值
//
// 每个 key 都注册默认值，环境变量才能在没有配置文件时覆盖它。
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":                ":8000",
		"server.read_header_timeout": 5 * time.Second,
		"server.read_timeout":        30 * time.Second,
		"server.write_timeout":       3 * time.Minute,
		"server.idle_timeout":        2 * time.Minute,
		"server.shutdown_timeout":    15 * time.Second,
		"server.cors_origins":        []string{"http://localhost:3000"},

		"log.level":        "info",
		"log.format":       "json",
		"log.output":       "stdout",
		"log.enable_color": false,
		"log.add_source":   false,
		"log.source_root":  "scribesnap",

		"database.driver":            "sqlite",
		"database.auto_migrate":      true,
		"database.slow_threshold":    200 * time.Millisecond,
		"database.enable_tracing":    false,
		"database.sqlite.name":       "scribesnap",
		"database.sqlite.path":       "./scribesnap.db",
		"database.mysql.name":        "scribesnap",
		"database.mysql.dsn":         "",
		"database.mysql.host":        "127.0.0.1",
		"database.mysql.port":        3306,
		"database.mysql.username":    "",
		"database.mysql.password":    "",
		"database.mysql.database":    "scribesnap",
		"database.postgres.name":     "scribesnap",
		"database.postgres.dsn":      "",
		"database.postgres.host":     "127.0.0.1",
		"database.postgres.port":     5432,
		"database.postgres.username": "",
		"database.postgres.password": "",
		"database.postgres.database": "scribesnap",
		"database.postgres.sslmode":  "disable",

		"storage.root": "./storage",

		"upload.max_file_size":      int64(10 * 1024 * 1024),
		"upload.allowed_extensions": []string{"png", "jpg", "jpeg"},
		"upload.finalize_timeout":   5 * time.Second,

		"extraction.provider":            extraction.ProviderGemini,
		"extraction.api_key":             "",
		"extraction.model":               "gemini-1.5-flash",
		"extraction.base_url":            "https://generativelanguage.googleapis.com",
		"extraction.timeout":             60 * time.Second,
		"extraction.requests_per_minute": 15,
		"extraction.max_output_tokens":   4096,

		"breaker.driver":            breaker.DriverLocal,
		"breaker.name":              "extraction",
		"breaker.failure_threshold": 5,
		"breaker.recovery_timeout":  60 * time.Second,

		"retry.name":            "extraction",
		"retry.max_attempts":    3,
		"retry.min_delay":       2 * time.Second,
		"retry.max_delay":       10 * time.Second,
		"retry.jitter_max":      time.Second,
		"retry.attempt_timeout": 60 * time.Second,

		"ratelimit.enabled":       true,
		"ratelimit.driver":        ratelimit.DriverStandalone,
		"ratelimit.limit":         100,
		"ratelimit.window":        time.Hour,
		"ratelimit.cleanup_every": 1000,
		"ratelimit.prefix":        "scribesnap:ratelimit:",

		"redis.name":           "scribesnap",
		"redis.addr":           "127.0.0.1:6379",
		"redis.password":       "",
		"redis.db":             0,
		"redis.enable_tracing": false,

		"reconcile.enabled":     true,
		"reconcile.stale_after": 10 * time.Minute,
		"reconcile.interval":    time.Minute,
		"reconcile.batch_size":  100,

		"events.enabled":        false,
		"events.subject_prefix": "scribesnap.notes",
		"events.nats.name":      "scribesnap",
		"events.nats.url":       "nats://127.0.0.1:4222",

		"cache.cache_size": 10000,
		"cache.cache_ttl":  time.Hour,

		"metrics.enabled":      true,
		"metrics.service_name": ServiceName,
		"metrics.version":      Version,
		"metrics.runtime":      true,

		"trace.enabled":      false,
		"trace.service_name": ServiceName,
		"trace.version":      "",
		"trace.endpoint":     "localhost:4317",
		"trace.sampler":      1.0,
		"trace.batcher":      "batch",
		"trace.insecure":     true,
	}
}

// LoaderConfig 配置文件搜索路径，paths 为空时使用 "." 和 "./config"
func LoaderConfig(paths ...string) *config.Config {
	return &config.Config{
		Name:      ServiceName,
		Paths:     paths,
		FileType:  "yaml",
		EnvPrefix: "SCRIBESNAP",
	}
}

// Load 加载并校验配置，返回的 Loader 可用于监听热更新
func Load(ctx context.Context, paths []string, opts ...config.Option) (*Config, config.Loader, error) {
	opts = append([]config.Option{config.WithDefaults(Defaults())}, opts...)
	loader, err := config.New(LoaderConfig(paths...), opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := loader.Load(ctx); err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, nil, xerrors.Wrap(err, "app: unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, loader, nil
}

// Validate 校验跨组件的约束，组件自身的参数由各组件在创建时校验
func (c *Config) Validate() error {
	const mb = 1024 * 1024
	switch {
	case c.Upload.MaxFileSize < mb || c.Upload.MaxFileSize > 50*mb:
		return config.WrapValidationError(xerrors.New("upload.max_file_size must be between 1MB and 50MB"))
	case c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10:
		return config.WrapValidationError(xerrors.New("retry.max_attempts must be between 1 and 10"))
	case c.Breaker.FailureThreshold < 1:
		return config.WrapValidationError(xerrors.New("breaker.failure_threshold must be >= 1"))
	case c.Server.Addr == "":
		return config.WrapValidationError(xerrors.New("server.addr is required"))
	}
	return nil
}
