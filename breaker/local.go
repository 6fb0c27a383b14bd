package breaker

import (
	"sync"
	"time"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/metrics"
)

// probeRetryAfter HalfOpen 时探测进行中，拒绝其他调用给出的等待时间
const probeRetryAfter = time.Second

// CircuitBreaker 基于连续失败计数的熔断器（local 驱动）
//
// 所有状态读写都在 mu 保护下完成，保证并发调用下计数不会丢失、
// HalfOpen 状态只放行一个探测请求。
type CircuitBreaker struct {
	name      string
	threshold int
	recovery  time.Duration
	now       func() time.Time
	logger    clog.Logger
	metrics   *breakerMetrics

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

func newLocal(cfg *Config, o *options, m *breakerMetrics) *CircuitBreaker {
	return &CircuitBreaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		recovery:  cfg.RecoveryTimeout,
		now:       o.now,
		logger:    o.logger,
		metrics:   m,
	}
}

// NewCircuitBreaker 直接创建 local 驱动的熔断器
func NewCircuitBreaker(cfg *Config, opts ...Option) (*CircuitBreaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.Driver = DriverLocal
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	o := &options{logger: clog.Discard(), meter: metrics.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return newLocal(&c, o, newBreakerMetrics(o.meter, c.Name)), nil
}

func (b *CircuitBreaker) Name() string {
	return b.name
}

// CanExecute 准入检查
//
// Open 状态下恢复时间到期后，本次调用将状态迁移到 HalfOpen 并作为唯一的探测请求放行。
func (b *CircuitBreaker) CanExecute() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed >= b.recovery {
			b.transition(StateHalfOpen)
			b.probing = true
			return nil
		}
		return b.reject(b.recovery - elapsed)
	default:
		if !b.probing {
			b.probing = true
			return nil
		}
		return b.reject(probeRetryAfter)
	}
}

// RecordSuccess 记录一次成功：清零连续失败次数并回到 Closed
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.metrics.outcome(OutcomeSuccess)
}

// RecordFailure 记录一次失败
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.lastFailure = b.now()
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			b.lastFailure = b.now()
			b.transition(StateOpen)
		}
	}
	b.metrics.outcome(OutcomeFailure)
}

// Release 放弃一次已准入的调用，不改变状态，只释放 HalfOpen 的探测名额
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
	}
	b.metrics.outcome(OutcomeIgnored)
}

// Allow 实现 Breaker 接口
func (b *CircuitBreaker) Allow() (DoneFunc, error) {
	if err := b.CanExecute(); err != nil {
		return nil, err
	}
	var once sync.Once
	return func(o Outcome) {
		once.Do(func() {
			switch o {
			case OutcomeSuccess:
				b.RecordSuccess()
			case OutcomeFailure:
				b.RecordFailure()
			default:
				b.Release()
			}
		})
	}, nil
}

func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
	}
	if b.state == StateOpen {
		if remaining := b.recovery - b.now().Sub(b.lastFailure); remaining > 0 {
			s.RetryAfter = remaining
		}
	}
	return s
}

// transition 调用方必须持有 mu
func (b *CircuitBreaker) transition(to State) {
	from := b.state
	b.state = to
	b.logger.Warn("circuit breaker state changed",
		clog.String("name", b.name),
		clog.String("from", from.String()),
		clog.String("to", to.String()),
		clog.Int("consecutive_failures", b.failures))
	b.metrics.transition(from, to)
}

// reject 调用方必须持有 mu
func (b *CircuitBreaker) reject(retryAfter time.Duration) error {
	b.metrics.reject()
	return &OpenError{Name: b.name, RetryAfter: retryAfter}
}
