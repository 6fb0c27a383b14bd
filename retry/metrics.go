package retry

import (
	"context"

	"github.com/ceyewan/scribesnap/metrics"
)

// Metrics 指标常量定义
const (
	// MetricRetriesTotal 发起的重试次数 (Counter)
	MetricRetriesTotal = "retry_attempts_total"

	// MetricOutcomesTotal Do 的最终结果 (Counter)
	MetricOutcomesTotal = "retry_outcomes_total"

	// LabelName 操作名标签
	LabelName = "name"

	// LabelOutcome 结果标签 (success/exhausted/non_retryable/rejected/canceled)
	LabelOutcome = "outcome"
)

const outcomeSuccess = "success"

type retryMetrics struct {
	name     string
	retries  metrics.Counter
	outcomes metrics.Counter
}

func newRetryMetrics(meter metrics.Meter, name string) *retryMetrics {
	m := &retryMetrics{name: name}
	m.retries, _ = meter.Counter(MetricRetriesTotal, "Number of retries scheduled after a failed attempt")
	m.outcomes, _ = meter.Counter(MetricOutcomesTotal, "Number of retried operations by final outcome")
	return m
}

func (m *retryMetrics) retry() {
	if m.retries != nil {
		m.retries.Inc(context.Background(), metrics.L(LabelName, m.name))
	}
}

func (m *retryMetrics) outcome(outcome string) {
	if m.outcomes != nil {
		m.outcomes.Inc(context.Background(), metrics.L(LabelName, m.name), metrics.L(LabelOutcome, outcome))
	}
}
