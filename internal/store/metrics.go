package store

import (
	"context"

	"github.com/ceyewan/scribesnap/metrics"
)

const (
	// MetricTransitions 进入各状态的次数 (Counter)
	MetricTransitions = "store_work_item_transitions_total"

	// MetricCacheRequests 终态缓存查询次数 (Counter)
	MetricCacheRequests = "store_cache_requests_total"

	LabelStatus = "status"
	LabelResult = "result"
)

type storeMetrics struct {
	transitions metrics.Counter
	cacheReqs   metrics.Counter
}

func newStoreMetrics(meter metrics.Meter) *storeMetrics {
	m := &storeMetrics{}
	m.transitions, _ = meter.Counter(MetricTransitions, "Number of work items entering each status")
	m.cacheReqs, _ = meter.Counter(MetricCacheRequests, "Number of terminal work item cache lookups")
	return m
}

func (m *storeMetrics) transition(ctx context.Context, to Status) {
	if m.transitions != nil {
		m.transitions.Inc(ctx, metrics.L(LabelStatus, string(to)))
	}
}

func (m *storeMetrics) cache(ctx context.Context, hit bool) {
	if m.cacheReqs == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheReqs.Inc(ctx, metrics.L(LabelResult, result))
}
