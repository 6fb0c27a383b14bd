package ratelimit

import (
	"context"

	"github.com/ceyewan/scribesnap/metrics"
)

// Metrics 指标常量定义
const (
	// MetricDecisions 准入判定次数 (Counter)
	MetricDecisions = "ratelimit_decisions_total"

	// MetricErrors 限流后端错误数 (Counter)
	MetricErrors = "ratelimit_errors_total"

	// MetricTrackedKeys standalone 驱动当前跟踪的 key 数 (Gauge)
	MetricTrackedKeys = "ratelimit_tracked_keys"

	// LabelDriver 驱动标签 (standalone/redis)
	LabelDriver = "driver"

	// LabelResult 结果标签 (allowed/rejected)
	LabelResult = "result"
)

type limiterMetrics struct {
	driver    string
	decisions metrics.Counter
	errors    metrics.Counter
	keys      metrics.Gauge
}

func newLimiterMetrics(meter metrics.Meter, driver string) *limiterMetrics {
	m := &limiterMetrics{driver: driver}
	m.decisions, _ = meter.Counter(MetricDecisions, "Number of rate limit decisions")
	m.errors, _ = meter.Counter(MetricErrors, "Number of rate limiter backend errors")
	m.keys, _ = meter.Gauge(MetricTrackedKeys, "Number of keys tracked by the in-process limiter")
	return m
}

func (m *limiterMetrics) decision(ctx context.Context, allowed bool) {
	if m.decisions == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.decisions.Inc(ctx, metrics.L(LabelDriver, m.driver), metrics.L(LabelResult, result))
}

func (m *limiterMetrics) backendError(ctx context.Context) {
	if m.errors != nil {
		m.errors.Inc(ctx, metrics.L(LabelDriver, m.driver))
	}
}

func (m *limiterMetrics) trackedKeys(n int) {
	if m.keys != nil {
		m.keys.Set(context.Background(), float64(n), metrics.L(LabelDriver, m.driver))
	}
}
