// Package reconcile 把长时间停留在 processing 的记录置为 failed。
//
// 正常情况下编排器总会把记录落到终态；进程崩溃或写库失败时记录会卡在 processing，
// Sweeper 周期性扫描创建时间早于 StaleAfter 的 processing 记录并将其标记失败。
// 与编排器并发写同一条记录是安全的：存储层只允许一次终态迁移。
package reconcile

import (
	"context"
	"time"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/internal/events"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/xerrors"
)

// Detail 写入被回收记录的错误详情
const Detail = "processing interrupted before completion"

// MetricReclaimed 被回收的记录数 (Counter)
const MetricReclaimed = "reconcile_reclaimed_total"

var (
	ErrConfigNil = xerrors.New("reconcile: config is nil")
	ErrStoreNil  = xerrors.New("reconcile: store is nil")
)

// Config 回收配置
type Config struct {
	// StaleAfter processing 超过该时长视为中断，默认 10m
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// Interval 扫描间隔，默认 1m
	Interval time.Duration `mapstructure:"interval"`

	// BatchSize 单次扫描最多处理的记录数，默认 100
	BatchSize int `mapstructure:"batch_size"`
}

func (c *Config) setDefaults() {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Option 回收器选项
type Option func(*Sweeper)

// WithLogger 设置 Logger，自动添加 "reconcile" namespace
func WithLogger(logger clog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger.WithNamespace("reconcile")
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter(meter metrics.Meter) Option {
	return func(s *Sweeper) {
		if meter != nil {
			s.meter = meter
		}
	}
}

// WithPublisher 回收后发布 failed 事件
func WithPublisher(p events.Publisher) Option {
	return func(s *Sweeper) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweeper 中断记录回收器
type Sweeper struct {
	cfg       Config
	items     store.Store
	publisher events.Publisher
	logger    clog.Logger
	meter     metrics.Meter
	reclaimed metrics.Counter
	now       func() time.Time
}

// New 创建回收器
func New(items store.Store, cfg *Config, opts ...Option) (*Sweeper, error) {
	if items == nil {
		return nil, ErrStoreNil
	}
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()

	s := &Sweeper{
		cfg:       c,
		items:     items,
		publisher: events.Noop(),
		logger:    clog.Discard(),
		meter:     metrics.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reclaimed, _ = s.meter.Counter(MetricReclaimed, "Number of interrupted work items marked as failed")
	return s, nil
}

// RunOnce 执行一次扫描，返回本次回收的记录数
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	before := s.now().Add(-s.cfg.StaleAfter)
	stale, err := s.items.ListStale(ctx, before, s.cfg.BatchSize)
	if err != nil {
		return 0, xerrors.Wrap(err, "reconcile: list stale work items")
	}

	n := 0
	for _, item := range stale {
		failed, err := s.items.Fail(ctx, item.ID, Detail)
		switch {
		case xerrors.Is(err, store.ErrNotProcessing):
			// 扫描之后被编排器写入了终态
			continue
		case err != nil:
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			s.logger.WarnContext(ctx, "failed to reclaim work item",
				clog.String("id", item.ID),
				clog.Error(err))
			continue
		}

		n++
		if s.reclaimed != nil {
			s.reclaimed.Inc(ctx)
		}
		s.logger.InfoContext(ctx, "reclaimed interrupted work item",
			clog.String("id", item.ID),
			clog.Time("created_at", item.CreatedAt))
		if err := s.publisher.Publish(ctx, events.Event{
			ID:           failed.ID,
			Status:       string(failed.Status),
			AttemptCount: failed.AttemptCount,
			ErrorDetail:  failed.ErrorDetail,
			OccurredAt:   failed.UpdatedAt,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to publish work item event",
				clog.String("id", failed.ID),
				clog.Error(err))
		}
	}
	return n, nil
}

// Run 按 Interval 周期扫描，直到 ctx 取消。启动时立即扫描一次。
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("reconcile sweeper started",
		clog.Duration("interval", s.cfg.Interval),
		clog.Duration("stale_after", s.cfg.StaleAfter))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "reconcile sweep failed", clog.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("reconcile sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
