// Package store 持久化 WorkItem。
//
// 状态只能从 processing 迁移到 completed 或 failed，迁移通过带
// "WHERE status = 'processing'" 条件的 UPDATE 完成，所以并发的两次迁移只有一次生效。
// 终态记录不可变，读取时缓存在进程内的 otter 缓存中。
//
// 列表查询使用 (created_at, id) 键集分页，游标对调用方不透明。
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter/v2"
	"gorm.io/gorm"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/db"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/xerrors"
)

// 排序方式
const (
	SortCreatedDesc = "created_at_desc"
	SortCreatedAsc  = "created_at_asc"
)

// 分页限制
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter 列表过滤条件，零值表示不过滤
type Filter struct {
	Status Status
	// From 只包含 created_at >= From 的记录
	From time.Time
	// To 只包含 created_at <= To 的记录
	To time.Time
}

// Page 分页参数
type Page struct {
	Limit  int
	Cursor string
	Sort   string
}

// ListResult 一页查询结果
type ListResult struct {
	Items      []*WorkItem
	NextCursor string
	HasMore    bool
	// TotalCount 满足过滤条件的总数，不受游标影响
	TotalCount int64
}

// Store WorkItem 存储接口
type Store interface {
	// Create 以 processing 状态创建记录，ID 为空时自动生成
	Create(ctx context.Context, item *WorkItem) error

	// Complete processing -> completed，写入结果
	Complete(ctx context.Context, id string, result string) (*WorkItem, error)

	// Fail processing -> failed，写入错误详情并将 AttemptCount 加一
	Fail(ctx context.Context, id string, detail string) (*WorkItem, error)

	// Get 按 ID 读取，不存在时返回 ErrNotFound
	Get(ctx context.Context, id string) (*WorkItem, error)

	// List 分页查询
	List(ctx context.Context, filter Filter, page Page) (*ListResult, error)

	// ListStale 返回 created_at 早于 before 且仍在 processing 的记录，按创建时间升序
	ListStale(ctx context.Context, before time.Time, limit int) ([]*WorkItem, error)

	// Ping 检查数据库连通性
	Ping(ctx context.Context) error

	// Migrate 创建或升级表结构
	Migrate(ctx context.Context) error
}

// Config 存储配置
type Config struct {
	// CacheSize 终态记录缓存容量，默认 10000，负数关闭缓存
	CacheSize int `mapstructure:"cache_size"`

	// CacheTTL 缓存条目存活时间，默认 1h
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func (c *Config) setDefaults() {
	if c.CacheSize == 0 {
		c.CacheSize = 10000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
}

type gormStore struct {
	db      db.DB
	cache   *otter.Cache[string, *WorkItem]
	now     func() time.Time
	logger  clog.Logger
	metrics *storeMetrics
}

// New 创建基于 gorm 的存储
func New(database db.DB, cfg *Config, opts ...Option) (Store, error) {
	if database == nil {
		return nil, ErrDBNil
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &gormStore{
		db:      database,
		now:     o.now,
		logger:  o.logger,
		metrics: newStoreMetrics(o.meter),
	}

	if c.CacheSize > 0 {
		cache, err := otter.New(&otter.Options[string, *WorkItem]{
			MaximumSize:      c.CacheSize,
			ExpiryCalculator: otter.ExpiryWriting[string, *WorkItem](c.CacheTTL),
		})
		if err != nil {
			return nil, xerrors.Wrap(err, "store: build cache")
		}
		s.cache = cache
	}

	o.logger.Info("work item store created",
		clog.String("driver", database.Driver()),
		clog.Int("cache_size", c.CacheSize))
	return s, nil
}

func (s *gormStore) timestamp() time.Time {
	// MySQL/PostgreSQL 只保留到微秒，统一截断保证游标往返一致
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *gormStore) Create(ctx context.Context, item *WorkItem) error {
	if item == nil || item.BlobRef == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "store: blob ref is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := s.timestamp()
	item.Status = StatusProcessing
	item.Result = ""
	item.ErrorDetail = ""
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := s.db.DB(ctx).Create(item).Error; err != nil {
		return xerrors.Wrapf(err, "store: create %s", item.ID)
	}
	s.metrics.transition(ctx, StatusProcessing)
	return nil
}

func (s *gormStore) Complete(ctx context.Context, id string, result string) (*WorkItem, error) {
	return s.finish(ctx, id, StatusCompleted, map[string]any{
		"status":     StatusCompleted,
		"result":     result,
		"updated_at": s.timestamp(),
	})
}

func (s *gormStore) Fail(ctx context.Context, id string, detail string) (*WorkItem, error) {
	return s.finish(ctx, id, StatusFailed, map[string]any{
		"status":        StatusFailed,
		"error_detail":  detail,
		"attempt_count": gorm.Expr("attempt_count + ?", 1),
		"updated_at":    s.timestamp(),
	})
}

// finish 执行 processing -> to 的条件更新
func (s *gormStore) finish(ctx context.Context, id string, to Status, updates map[string]any) (*WorkItem, error) {
	var item *WorkItem
	err := s.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		res := tx.Model(&WorkItem{}).
			Where("id = ? AND status = ?", id, StatusProcessing).
			Updates(updates)
		if res.Error != nil {
			return xerrors.Wrapf(res.Error, "store: update %s to %s", id, to)
		}

		var current WorkItem
		if err := tx.Where("id = ?", id).Take(&current).Error; err != nil {
			if xerrors.Is(err, gorm.ErrRecordNotFound) {
				return xerrors.Wrapf(ErrNotFound, "%s", id)
			}
			return xerrors.Wrapf(err, "store: reload %s", id)
		}
		if res.RowsAffected == 0 {
			return xerrors.Wrapf(ErrNotProcessing, "%s is %s", id, current.Status)
		}
		item = &current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.transition(ctx, to)
	s.remember(item)
	return item.clone(), nil
}

func (s *gormStore) Get(ctx context.Context, id string) (*WorkItem, error) {
	if s.cache != nil {
		if item, ok := s.cache.GetIfPresent(id); ok {
			s.metrics.cache(ctx, true)
			return item.clone(), nil
		}
		s.metrics.cache(ctx, false)
	}

	var item WorkItem
	if err := s.db.DB(ctx).Where("id = ?", id).Take(&item).Error; err != nil {
		if xerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Wrapf(ErrNotFound, "%s", id)
		}
		return nil, xerrors.Wrapf(err, "store: get %s", id)
	}
	s.remember(&item)
	return item.clone(), nil
}

// remember 只缓存终态记录
func (s *gormStore) remember(item *WorkItem) {
	if s.cache == nil || !item.Status.Terminal() {
		return
	}
	s.cache.Set(item.ID, item.clone())
}

func (s *gormStore) List(ctx context.Context, filter Filter, page Page) (*ListResult, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, xerrors.Wrapf(ErrInvalidQuery, "unknown status %q", filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, xerrors.Wrap(ErrInvalidQuery, "from is after to")
	}

	sort := page.Sort
	if sort == "" {
		sort = SortCreatedDesc
	}
	if sort != SortCreatedDesc && sort != SortCreatedAsc {
		return nil, xerrors.Wrapf(ErrInvalidQuery, "unknown sort %q", sort)
	}
	limit := page.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	var after *cursor
	if page.Cursor != "" {
		c, err := decodeCursor(page.Cursor)
		if err != nil {
			return nil, err
		}
		after = &c
	}

	base := applyFilter(s.db.DB(ctx).Model(&WorkItem{}), filter).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, xerrors.Wrap(err, "store: count work items")
	}

	q := base
	if sort == SortCreatedAsc {
		if after != nil {
			q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
		}
		q = q.Order("created_at ASC").Order("id ASC")
	} else {
		if after != nil {
			q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", after.CreatedAt, after.CreatedAt, after.ID)
		}
		q = q.Order("created_at DESC").Order("id DESC")
	}

	var items []*WorkItem
	if err := q.Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, xerrors.Wrap(err, "store: list work items")
	}

	res := &ListResult{TotalCount: total}
	if len(items) > limit {
		items = items[:limit]
		res.HasMore = true
		last := items[len(items)-1]
		res.NextCursor = cursor{CreatedAt: last.CreatedAt, ID: last.ID}.encode()
	}
	res.Items = items
	return res, nil
}

func applyFilter(q *gorm.DB, f Filter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To.UTC())
	}
	return q
}

func (s *gormStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*WorkItem, error) {
	if limit <= 0 {
		limit = MaxPageSize
	}
	var items []*WorkItem
	err := s.db.DB(ctx).
		Where("status = ? AND created_at < ?", StatusProcessing, before.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, xerrors.Wrap(err, "store: list stale work items")
	}
	return items, nil
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB(ctx).DB()
	if err != nil {
		return xerrors.Wrap(err, "store: get sql.DB")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return xerrors.Wrap(xerrors.Join(xerrors.ErrUnavailable, err), "store: ping")
	}
	return nil
}

func (s *gormStore) Migrate(ctx context.Context) error {
	if err := s.db.DB(ctx).AutoMigrate(&WorkItem{}); err != nil {
		return xerrors.Wrap(err, "store: migrate")
	}
	s.logger.InfoContext(ctx, "work item schema migrated", clog.String("driver", s.db.Driver()))
	return nil
}
