package workflow

import (
	"context"
	"time"

	"github.com/ceyewan/scribesnap/breaker"
	"github.com/ceyewan/scribesnap/clog"
)

// 整体状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// 依赖状态
const (
	DatabaseConnected    = "connected"
	DatabaseDisconnected = "disconnected"

	ExtractionAvailable   = "available"
	ExtractionDegraded    = "degraded"
	ExtractionUnavailable = "unavailable"
)

// Health 健康检查结果
type Health struct {
	Status     string
	Timestamp  time.Time
	Database   string
	Extraction string
	Breaker    breaker.Snapshot
}

// Healthy 数据库不可用时为 false，提取服务降级不影响
func (h Health) Healthy() bool {
	return h.Status != StatusUnhealthy
}

// Health 检查数据库连通性，并根据熔断器状态判断提取服务是否可用。
// 不会触发熔断器状态迁移。
func (o *Orchestrator) Health(ctx context.Context) Health {
	snap := o.breaker.Snapshot()
	h := Health{
		Timestamp:  o.now().UTC(),
		Database:   DatabaseConnected,
		Extraction: extractionStatus(snap.State),
		Breaker:    snap,
	}

	if err := o.items.Ping(ctx); err != nil {
		o.logger.WarnContext(ctx, "database health check failed", clog.Error(err))
		h.Database = DatabaseDisconnected
	}

	switch {
	case h.Database != DatabaseConnected:
		h.Status = StatusUnhealthy
	case h.Extraction != ExtractionAvailable:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	return h
}

func extractionStatus(s breaker.State) string {
	switch s {
	case breaker.StateOpen:
		return ExtractionUnavailable
	case breaker.StateHalfOpen:
		return ExtractionDegraded
	default:
		return ExtractionAvailable
	}
}
