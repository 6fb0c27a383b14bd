package workflow

import (
	"context"
	"time"

	"github.com/ceyewan/scribesnap/metrics"
)

const (
	// MetricOutcomes 上传处理结果 (Counter)
	MetricOutcomes = "workflow_outcomes_total"

	// MetricDuration 一次上传处理的总耗时 (Histogram)
	MetricDuration = "workflow_duration_seconds"

	LabelOutcome = "outcome"
)

type workflowMetrics struct {
	outcomes metrics.Counter
	duration metrics.Histogram
}

func newWorkflowMetrics(meter metrics.Meter) *workflowMetrics {
	m := &workflowMetrics{}
	m.outcomes, _ = meter.Counter(MetricOutcomes, "Number of processed uploads by outcome")
	m.duration, _ = meter.Histogram(MetricDuration, "End-to-end latency of upload processing",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}))
	return m
}

func (m *workflowMetrics) observe(ctx context.Context, outcome string, d time.Duration) {
	if m.outcomes != nil {
		m.outcomes.Inc(ctx, metrics.L(LabelOutcome, outcome))
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metrics.L(LabelOutcome, outcome))
	}
}
