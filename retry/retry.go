// Package retry 提供带指数退避和随机抖动的有界重试组件。
//
// 一次 Do 调用对应一次"外层受保护调用"：内部可能执行多次 attempt，
// 但对调用方只返回一个结果，调用方据此只记录一次成功或失败（例如只向熔断器报告一次）。
//
// 退避公式（第 n 次失败后、第 n+1 次尝试前）：
//
//	delay = min(MaxDelay, MinDelay * 2^(n-1)) + uniform[0, JitterMax)
//
// 抖动只会增加等待时间，第一次重试不会早于 MinDelay。
//
// 错误分类：
//   - ClassRetryable：可重试，直到用完 MaxAttempts，返回 ReasonExhausted
//   - ClassNonRetryable：立即停止，返回 ReasonNonRetryable
//   - ClassRejected：前置检查失败（如熔断器拒绝），调用并未发生，立即停止，返回 ReasonRejected
//
// 基本使用：
//
//	r, _ := retry.New(&retry.Config{Name: "extraction", MaxAttempts: 3},
//		retry.WithClassifier(classify), retry.WithLogger(logger))
//
//	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
//		return client.Call(ctx)
//	})
//	var rerr *retry.Error
//	if errors.As(err, &rerr) && rerr.Reason == retry.ReasonExhausted {
//		// ...
//	}
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/metrics"
)

// Class 错误分类
type Class int

const (
	ClassRetryable Class = iota
	ClassNonRetryable
	ClassRejected
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassNonRetryable:
		return "non_retryable"
	case ClassRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classifier 将一次 attempt 的错误映射为分类
type Classifier func(error) Class

// Operation 被重试的操作，attempt 从 1 开始
type Operation func(ctx context.Context, attempt int) error

// Event 一次即将发生的重试
type Event struct {
	Name    string
	Attempt int // 刚刚失败的 attempt 序号
	Err     error
	Delay   time.Duration
}

// Observer 重试观察者，在每次退避等待之前同步调用
type Observer func(Event)

// Config 重试配置
type Config struct {
	// Name 被重试的操作名，用于日志和指标标签
	Name string `mapstructure:"name"`

	// MaxAttempts 最大尝试次数（含第一次），1 表示不重试，默认 3
	MaxAttempts int `mapstructure:"max_attempts"`

	// MinDelay 第一次重试前的基础等待时间，默认 2s
	MinDelay time.Duration `mapstructure:"min_delay"`

	// MaxDelay 基础等待时间上限，默认 10s
	MaxDelay time.Duration `mapstructure:"max_delay"`

	// JitterMax 随机抖动上限，抖动取 [0, JitterMax)，默认 1s
	JitterMax time.Duration `mapstructure:"jitter_max"`

	// AttemptTimeout 单次 attempt 的超时时间，0 表示不限制，默认 30s
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.MinDelay == 0 {
		c.MinDelay = 2 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.JitterMax == 0 {
		c.JitterMax = time.Second
	}
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidAttempts
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return ErrInvalidDelay
	}
	if c.JitterMax < 0 || c.AttemptTimeout < 0 {
		return ErrInvalidDelay
	}
	return nil
}

// Retrier 重试执行器，可在多个 goroutine 间共享
type Retrier struct {
	cfg        Config
	classifier Classifier
	observer   Observer
	logger     clog.Logger
	metrics    *retryMetrics
	sleep      func(context.Context, time.Duration) error
	jitter     func(time.Duration) time.Duration
}

// New 创建重试执行器
func New(cfg *Config, opts ...Option) (*Retrier, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger:     clog.Discard(),
		meter:      metrics.Discard(),
		classifier: DefaultClassifier,
		sleep:      sleepContext,
		jitter:     uniformJitter,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Retrier{
		cfg:        c,
		classifier: o.classifier,
		observer:   o.observer,
		logger:     o.logger,
		metrics:    newRetryMetrics(o.meter, c.Name),
		sleep:      o.sleep,
		jitter:     o.jitter,
	}, nil
}

// Config 返回生效的配置（已填充默认值）
func (r *Retrier) Config() Config {
	return r.cfg
}

// Do 执行 op，按配置重试
//
// 成功返回 nil；否则返回 *Error，其 Last 为最后一次 attempt 的错误。
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return r.fail(ReasonCanceled, attempt-1, firstNonNil(last, err))
		}

		err := r.attempt(ctx, op, attempt)
		if err == nil {
			r.metrics.outcome(outcomeSuccess)
			if attempt > 1 {
				r.logger.InfoContext(ctx, "operation succeeded after retry",
					clog.String("name", r.cfg.Name),
					clog.Int("attempt", attempt))
			}
			return nil
		}
		last = err

		if ctx.Err() != nil {
			return r.fail(ReasonCanceled, attempt, last)
		}

		switch r.classifier(err) {
		case ClassRejected:
			// 前置检查失败，本次 attempt 并未真正执行
			return r.fail(ReasonRejected, attempt-1, last)
		case ClassNonRetryable:
			return r.fail(ReasonNonRetryable, attempt, last)
		}

		if attempt >= r.cfg.MaxAttempts {
			return r.fail(ReasonExhausted, attempt, last)
		}

		delay := r.Backoff(attempt) + r.jitter(r.cfg.JitterMax)
		r.metrics.retry()
		if r.observer != nil {
			r.observer(Event{Name: r.cfg.Name, Attempt: attempt, Err: err, Delay: delay})
		}
		r.logger.WarnContext(ctx, "attempt failed, retrying",
			clog.String("name", r.cfg.Name),
			clog.Int("attempt", attempt),
			clog.Int("max_attempts", r.cfg.MaxAttempts),
			clog.Duration("delay", delay),
			clog.Error(err))

		if err := r.sleep(ctx, delay); err != nil {
			return r.fail(ReasonCanceled, attempt, last)
		}
	}
}

func (r *Retrier) attempt(ctx context.Context, op Operation, attempt int) error {
	if r.cfg.AttemptTimeout <= 0 {
		return op(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return op(attemptCtx, attempt)
}

// Backoff 返回第 attempt 次失败后的基础等待时间（不含抖动）
func (r *Retrier) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := r.cfg.MinDelay
	for i := 1; i < attempt; i++ {
		if d >= r.cfg.MaxDelay/2 {
			return r.cfg.MaxDelay
		}
		d *= 2
	}
	return min(d, r.cfg.MaxDelay)
}

func (r *Retrier) fail(reason Reason, attempts int, last error) error {
	r.metrics.outcome(reason.String())
	if reason == ReasonExhausted {
		r.logger.Warn("retries exhausted",
			clog.String("name", r.cfg.Name),
			clog.Int("attempts", attempts),
			clog.Error(last))
	}
	return &Error{Reason: reason, Attempts: attempts, Last: last}
}

// DefaultClassifier 默认分类：Permanent 包装的错误不可重试，其余均可重试
func DefaultClassifier(err error) Class {
	if IsPermanent(err) {
		return ClassNonRetryable
	}
	return ClassRetryable
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniformJitter(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(maxJitter)))
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
