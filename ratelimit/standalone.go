package ratelimit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/scribesnap/clog"
)

// window 单个 key 的滑动窗口，stamps 按时间非递减有序
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	// dead 已被清理移出 map，持有旧指针的调用方需要重新获取
	dead bool
}

// prune 删除 <= cutoff 的记录，调用方必须持有 mu
func (w *window) prune(cutoff time.Time) {
	i := sort.Search(len(w.stamps), func(i int) bool {
		return w.stamps[i].After(cutoff)
	})
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// insert 按时间顺序插入，调用方必须持有 mu
func (w *window) insert(now time.Time) {
	n := len(w.stamps)
	if n == 0 || !now.Before(w.stamps[n-1]) {
		w.stamps = append(w.stamps, now)
		return
	}
	i := sort.Search(n, func(i int) bool {
		return w.stamps[i].After(now)
	})
	w.stamps = append(w.stamps, time.Time{})
	copy(w.stamps[i+1:], w.stamps[i:])
	w.stamps[i] = now
}

// Standalone 进程内滑动窗口限流器
type Standalone struct {
	limit        int
	window       time.Duration
	cleanupEvery int64
	now          func() time.Time
	logger       clog.Logger
	metrics      *limiterMetrics

	windows    sync.Map // map[string]*window
	keys       atomic.Int64
	admissions atomic.Int64
}

func newStandalone(cfg *Config, o *options) *Standalone {
	return &Standalone{
		limit:        cfg.Limit,
		window:       cfg.Window,
		cleanupEvery: int64(cfg.CleanupEvery),
		now:          o.now,
		logger:       o.logger,
		metrics:      newLimiterMetrics(o.meter, DriverStandalone),
	}
}

// NewStandalone 直接创建进程内限流器
func NewStandalone(cfg *Config, opts ...Option) (*Standalone, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.Driver = DriverStandalone
	l, err := New(&c, opts...)
	if err != nil {
		return nil, err
	}
	return l.(*Standalone), nil
}

// Admit 使用注入的时钟做一次准入判定
func (l *Standalone) Admit(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, ErrKeyEmpty
	}
	d := l.AdmitAt(key, l.now())
	l.metrics.decision(ctx, d.Allowed)
	return d, nil
}

// AdmitAt 在给定时间点对 key 做一次准入判定
//
// 同一个 key 的读取、裁剪、追加在该 key 的锁内完成，
// 并发 2N 次准入、Limit 为 N 时恰好放行 N 次。
func (l *Standalone) AdmitAt(key string, now time.Time) Decision {
	d := l.admit(key, now)
	if l.admissions.Add(1)%l.cleanupEvery == 0 {
		l.Sweep(now)
	}
	return d
}

func (l *Standalone) admit(key string, now time.Time) Decision {
	cutoff := now.Add(-l.window)
	for {
		v, loaded := l.windows.LoadOrStore(key, &window{})
		if !loaded {
			l.keys.Add(1)
		}
		w := v.(*window)

		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}

		w.prune(cutoff)
		if len(w.stamps) >= l.limit {
			wait := w.stamps[0].Add(l.window).Sub(now)
			w.mu.Unlock()
			return Decision{
				Allowed:    false,
				Limit:      l.limit,
				Remaining:  0,
				RetryAfter: retryAfter(wait),
			}
		}

		w.insert(now)
		remaining := l.limit - len(w.stamps)
		w.mu.Unlock()
		return Decision{Allowed: true, Limit: l.limit, Remaining: remaining}
	}
}

// Sweep 删除窗口内已无记录的 key，返回删除数量
func (l *Standalone) Sweep(now time.Time) int {
	cutoff := now.Add(-l.window)
	removed := 0
	l.windows.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		w.prune(cutoff)
		if len(w.stamps) == 0 {
			w.dead = true
			l.windows.Delete(k)
			removed++
		}
		w.mu.Unlock()
		return true
	})

	if removed > 0 {
		remaining := l.keys.Add(int64(-removed))
		l.metrics.trackedKeys(int(remaining))
		l.logger.Debug("swept idle rate limit keys",
			clog.Int("removed", removed),
			clog.Int64("tracked", remaining))
	}
	return removed
}

// Len 当前跟踪的 key 数
func (l *Standalone) Len() int {
	return int(l.keys.Load())
}

// Close 进程内限流器没有需要释放的资源
func (l *Standalone) Close() error {
	return nil
}
