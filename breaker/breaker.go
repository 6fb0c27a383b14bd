// Package breaker 提供熔断器组件，保护对单个不稳定下游依赖的调用。
//
// 一个 Breaker 实例对应一个下游依赖，由所有调用方共享，反映的是依赖的整体健康度。
// 状态机：
//
//	Closed   --连续失败达到阈值-->  Open
//	Open     --恢复时间到期后的下一次准入检查-->  HalfOpen（只放行一个探测请求）
//	HalfOpen --探测成功-->  Closed
//	HalfOpen --探测失败-->  Open（重新计时）
//
// 提供两种驱动：
//   - local（默认）：内置实现，时钟可注入，探测请求可以通过 OutcomeIgnored 释放
//   - gobreaker：基于 sony/gobreaker/v2 的 TwoStepCircuitBreaker
//
// 基本使用：
//
//	brk, _ := breaker.New(&breaker.Config{
//		Name:             "extraction",
//		FailureThreshold: 5,
//		RecoveryTimeout:  time.Minute,
//	}, breaker.WithLogger(logger), breaker.WithMeter(meter))
//
//	done, err := brk.Allow()
//	if err != nil {
//		// err 匹配 breaker.ErrOpen，可通过 breaker.RetryAfter(err) 获取建议等待时间
//		return err
//	}
//	if callErr := call(); callErr != nil {
//		done(breaker.OutcomeFailure)
//	} else {
//		done(breaker.OutcomeSuccess)
//	}
package breaker

import (
	"time"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/metrics"
)

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Outcome 一次受保护调用的结果
type Outcome int

const (
	// OutcomeSuccess 调用成功
	OutcomeSuccess Outcome = iota
	// OutcomeFailure 调用失败，计入连续失败次数
	OutcomeFailure
	// OutcomeIgnored 调用被调用方放弃（如 context 取消），不改变状态，只释放探测名额
	OutcomeIgnored
)

// DoneFunc 在受保护调用结束后调用一次，重复调用会被忽略
type DoneFunc func(Outcome)

// Snapshot 熔断器状态快照，用于健康检查，不会触发状态迁移
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time
	// RetryAfter Open 状态下距离允许探测的剩余时间
	RetryAfter time.Duration
}

// Breaker 熔断器接口
type Breaker interface {
	// Allow 准入检查，不会阻塞。被拒绝时返回匹配 ErrOpen 的 *OpenError。
	// 准入成功时返回的 DoneFunc 必须在调用结束后恰好调用一次。
	Allow() (DoneFunc, error)

	// State 返回当前状态，不会触发状态迁移
	State() State

	// Snapshot 返回当前状态快照
	Snapshot() Snapshot

	// Name 返回被保护的依赖名称
	Name() string
}

const (
	DriverLocal     = "local"
	DriverGobreaker = "gobreaker"
)

// Config 熔断器配置
type Config struct {
	// Driver 驱动类型：local | gobreaker，默认 local
	Driver string `mapstructure:"driver"`

	// Name 被保护的依赖名称，用于日志和指标标签
	Name string `mapstructure:"name"`

	// FailureThreshold 触发熔断的连续失败次数，默认 5
	FailureThreshold int `mapstructure:"failure_threshold"`

	// RecoveryTimeout Open 状态持续多久后允许探测，默认 60s
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverLocal
	}
	if c.Name == "" {
		c.Name = "default"
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
}

func (c *Config) validate() error {
	if c.FailureThreshold < 1 {
		return ErrInvalidThreshold
	}
	if c.RecoveryTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Driver != DriverLocal && c.Driver != DriverGobreaker {
		return ErrUnknownDriver
	}
	return nil
}

// New 根据配置创建熔断器
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	m := newBreakerMetrics(o.meter, c.Name)

	var (
		b   Breaker
		err error
	)
	switch c.Driver {
	case DriverGobreaker:
		b, err = newGobreaker(&c, o, m)
	default:
		b = newLocal(&c, o, m)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("circuit breaker created",
		clog.String("name", c.Name),
		clog.String("driver", c.Driver),
		clog.Int("failure_threshold", c.FailureThreshold),
		clog.Duration("recovery_timeout", c.RecoveryTimeout))

	return b, nil
}
