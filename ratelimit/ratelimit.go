// Package ratelimit 提供基于滑动窗口的入站限流组件。
//
// 对每个 key 维护窗口内的请求时间戳：只统计 (now - Window, now] 内的请求，
// 达到 Limit 时拒绝，并给出最早一条记录滑出窗口所需的等待时间（向上取整到秒，至少 1 秒）。
//
// 两种驱动，共用同一个 Limiter 接口：
//   - standalone（默认）：进程内 sync.Map，每个 key 一把锁；
//     每 CleanupEvery 次准入顺带清理一次已过期的 key，不依赖后台 goroutine
//   - redis：Redis 有序集合 + Lua 脚本，多实例共享窗口，时间取 Redis 服务端时钟
//
// 基本使用：
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{
//		Limit:  100,
//		Window: time.Hour,
//	}, ratelimit.WithLogger(logger), ratelimit.WithMeter(meter))
//
//	d, err := limiter.Admit(ctx, clientIP)
//	if err == nil && !d.Allowed {
//		// 返回 429，Retry-After: d.RetryAfter
//	}
//
// Gin 中间件：
//
//	r.Use(ratelimit.GinMiddleware(limiter, &ratelimit.GinMiddlewareOptions{
//		ExemptPaths: []string{"/health", "/metrics"},
//	}))
package ratelimit

import (
	"context"
	"time"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/xerrors"
)

// 驱动类型
const (
	DriverStandalone = "standalone"
	DriverRedis      = "redis"
)

// Decision 一次准入判定的结果
type Decision struct {
	Allowed bool
	// Limit 窗口内允许的请求数
	Limit int
	// Remaining 本次判定之后窗口内剩余的配额
	Remaining int
	// RetryAfter 被拒绝时建议的等待时间，整秒且 >= 1s；允许时为 0
	RetryAfter time.Duration
}

// Limiter 限流器接口
type Limiter interface {
	// Admit 对 key 做一次准入判定，允许时记录本次请求
	// 返回的 error 只表示限流器自身故障（如 Redis 不可用），调用方可自行决定放行
	Admit(ctx context.Context, key string) (Decision, error)

	// Close 释放资源，不关闭借用的连接器
	Close() error
}

// Config 限流配置
type Config struct {
	// Driver 驱动类型：standalone | redis，默认 standalone
	Driver string `mapstructure:"driver"`

	// Limit 窗口内每个 key 允许的请求数，默认 100
	Limit int `mapstructure:"limit"`

	// Window 滑动窗口长度，默认 1h
	Window time.Duration `mapstructure:"window"`

	// CleanupEvery standalone 驱动每隔多少次准入清理一次过期 key，默认 1000
	CleanupEvery int `mapstructure:"cleanup_every"`

	// Prefix redis 驱动的 key 前缀，默认 "scribesnap:ratelimit:"
	Prefix string `mapstructure:"prefix"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverStandalone
	}
	if c.Limit == 0 {
		c.Limit = 100
	}
	if c.Window == 0 {
		c.Window = time.Hour
	}
	if c.CleanupEvery == 0 {
		c.CleanupEvery = 1000
	}
	if c.Prefix == "" {
		c.Prefix = "scribesnap:ratelimit:"
	}
}

func (c *Config) validate() error {
	if c.Limit < 1 {
		return xerrors.Wrap(ErrInvalidLimit, "limit must be >= 1")
	}
	if c.Window < time.Millisecond {
		return xerrors.Wrap(ErrInvalidLimit, "window must be >= 1ms")
	}
	if c.CleanupEvery < 1 {
		return xerrors.Wrap(ErrInvalidLimit, "cleanup_every must be >= 1")
	}
	if c.Driver != DriverStandalone && c.Driver != DriverRedis {
		return xerrors.Wrapf(ErrInvalidLimit, "unknown driver %q", c.Driver)
	}
	return nil
}

// New 根据配置创建限流器，redis 驱动需要通过 WithRedisConnector 注入连接器
func New(cfg *Config, opts ...Option) (Limiter, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	var (
		l   Limiter
		err error
	)
	switch c.Driver {
	case DriverRedis:
		l, err = newRedisLimiter(&c, o)
	default:
		l = newStandalone(&c, o)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("rate limiter created",
		clog.String("driver", c.Driver),
		clog.Int("limit", c.Limit),
		clog.Duration("window", c.Window))
	return l, nil
}

// retryAfter 将剩余等待时间向上取整到秒，至少 1 秒
func retryAfter(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
