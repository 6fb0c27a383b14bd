package events

import (
	"context"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/metrics"
)

// Option 发布器选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 设置 Logger，自动添加 "events" namespace
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("events")
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

const (
	// MetricPublished 发布的事件数 (Counter)
	MetricPublished = "events_published_total"

	LabelStatus = "status"
	LabelResult = "result"
)

type publisherMetrics struct {
	published metrics.Counter
}

func newPublisherMetrics(meter metrics.Meter) *publisherMetrics {
	m := &publisherMetrics{}
	m.published, _ = meter.Counter(MetricPublished, "Number of work item events published")
	return m
}

func (m *publisherMetrics) publish(ctx context.Context, status string, ok bool) {
	if m.published == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.published.Inc(ctx, metrics.L(LabelStatus, status), metrics.L(LabelResult, result))
}
