package extraction

import (
	"context"
	"time"

	"github.com/ceyewan/scribesnap/metrics"
)

const (
	// MetricRequests 上游请求数 (Counter)
	MetricRequests = "extraction_requests_total"

	// MetricDuration 上游请求耗时 (Histogram)
	MetricDuration = "extraction_request_duration_seconds"

	LabelModel  = "model"
	LabelResult = "result"
)

type clientMetrics struct {
	model    string
	requests metrics.Counter
	duration metrics.Histogram
}

func newClientMetrics(meter metrics.Meter, model string) *clientMetrics {
	m := &clientMetrics{model: model}
	m.requests, _ = meter.Counter(MetricRequests, "Number of extraction requests sent upstream")
	m.duration, _ = meter.Histogram(MetricDuration, "Latency of extraction requests",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.5, 1, 2, 5, 10, 20, 30, 60}))
	return m
}

func (m *clientMetrics) observe(ctx context.Context, result string, d time.Duration) {
	if m.requests != nil {
		m.requests.Inc(ctx, metrics.L(LabelModel, m.model), metrics.L(LabelResult, result))
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metrics.L(LabelModel, m.model))
	}
}
