package retry

import (
	"context"
	"time"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	classifier Classifier
	observer   Observer
	sleep      func(context.Context, time.Duration) error
	jitter     func(time.Duration) time.Duration
}

// WithLogger 设置 Logger，传入 nil 时使用 clog.Discard()
// 内部会自动添加 namespace: "retry"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = clog.Discard()
		} else {
			o.logger = logger.WithNamespace("retry")
		}
	}
}

// WithMeter 设置指标 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithClassifier 设置错误分类函数，默认 DefaultClassifier
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithObserver 设置重试观察者
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithSleep 替换退避等待函数，测试用
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithJitter 替换抖动函数，入参为 JitterMax，测试用
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(o *options) {
		if jitter != nil {
			o.jitter = jitter
		}
	}
}
