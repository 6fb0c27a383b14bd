package breaker

import (
	"context"

	"github.com/ceyewan/scribesnap/metrics"
)

// Metrics 指标常量定义
const (
	// MetricStateChanges 状态变更次数 (Counter)
	MetricStateChanges = "breaker_state_changes_total"

	// MetricRejectsTotal 被熔断拒绝的调用数 (Counter)
	MetricRejectsTotal = "breaker_rejects_total"

	// MetricOutcomesTotal 记录的调用结果数 (Counter)
	MetricOutcomesTotal = "breaker_outcomes_total"

	// MetricState 当前状态 (Gauge)，0=closed 1=open 2=half_open
	MetricState = "breaker_state"

	// LabelName 依赖名标签
	LabelName = "name"

	// LabelFromState 源状态标签
	LabelFromState = "from_state"

	// LabelToState 目标状态标签
	LabelToState = "to_state"

	// LabelResult 结果标签 (success/failure/ignored)
	LabelResult = "result"
)

type breakerMetrics struct {
	name         string
	stateChanges metrics.Counter
	rejects      metrics.Counter
	outcomes     metrics.Counter
	state        metrics.Gauge
}

func newBreakerMetrics(meter metrics.Meter, name string) *breakerMetrics {
	m := &breakerMetrics{name: name}
	m.stateChanges, _ = meter.Counter(MetricStateChanges, "Number of circuit breaker state changes")
	m.rejects, _ = meter.Counter(MetricRejectsTotal, "Number of calls rejected by the circuit breaker")
	m.outcomes, _ = meter.Counter(MetricOutcomesTotal, "Number of recorded call outcomes")
	m.state, _ = meter.Gauge(MetricState, "Current circuit breaker state")
	return m
}

func (m *breakerMetrics) transition(from, to State) {
	ctx := context.Background()
	if m.stateChanges != nil {
		m.stateChanges.Inc(ctx,
			metrics.L(LabelName, m.name),
			metrics.L(LabelFromState, from.String()),
			metrics.L(LabelToState, to.String()))
	}
	if m.state != nil {
		m.state.Set(ctx, float64(to), metrics.L(LabelName, m.name))
	}
}

func (m *breakerMetrics) reject() {
	if m.rejects != nil {
		m.rejects.Inc(context.Background(), metrics.L(LabelName, m.name))
	}
}

func (m *breakerMetrics) outcome(o Outcome) {
	if m.outcomes == nil {
		return
	}
	result := "success"
	switch o {
	case OutcomeFailure:
		result = "failure"
	case OutcomeIgnored:
		result = "ignored"
	}
	m.outcomes.Inc(context.Background(), metrics.L(LabelName, m.name), metrics.L(LabelResult, result))
}
