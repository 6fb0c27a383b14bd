package workflow

import (
	"time"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/internal/events"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/retry"
)

// Option 编排器选项
type Option func(*options)

type options struct {
	logger       clog.Logger
	meter        metrics.Meter
	publisher    events.Publisher
	retryOptions []retry.Option
	now          func() time.Time
}

// WithLogger 设置 Logger，自动添加 "workflow" namespace
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("workflow")
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithPublisher 设置终态事件发布器，默认不发布
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithRetryOptions 追加传给内部重试器的选项（例如测试中替换 sleep）
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) {
		o.retryOptions = append(o.retryOptions, opts...)
	}
}

// WithClock 设置时钟，用于事件时间和健康检查时间戳
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
