package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/xerrors"
)

// gobreakerBreaker 基于 gobreaker TwoStepCircuitBreaker 的实现
//
// MaxRequests=1 保证 HalfOpen 只放行一个探测；Interval=0 表示 Closed 状态下不清空计数，
// 与连续失败计数的语义一致。
type gobreakerBreaker struct {
	name     string
	recovery time.Duration
	cb       *gobreaker.TwoStepCircuitBreaker[struct{}]
	logger   clog.Logger
	metrics  *breakerMetrics
	openedAt atomic.Int64 // unix nano
}

func newGobreaker(cfg *Config, o *options, m *breakerMetrics) (*gobreakerBreaker, error) {
	if cfg.RecoveryTimeout <= 0 {
		return nil, xerrors.Wrap(ErrInvalidTimeout, "gobreaker requires a positive recovery timeout")
	}

	b := &gobreakerBreaker{
		name:     cfg.Name,
		recovery: cfg.RecoveryTimeout,
		logger:   o.logger,
		metrics:  m,
	}

	threshold := uint32(cfg.FailureThreshold)
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
	})
	return b, nil
}

func (b *gobreakerBreaker) Name() string {
	return b.name
}

func (b *gobreakerBreaker) Allow() (DoneFunc, error) {
	before := b.cb.State()
	done, err := b.cb.Allow()
	if err != nil {
		if xerrors.IsAny(err, gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests) {
			b.metrics.reject()
			return nil, &OpenError{Name: b.name, RetryAfter: b.retryAfter()}
		}
		return nil, err
	}

	var once sync.Once
	return func(o Outcome) {
		once.Do(func() {
			b.metrics.outcome(o)
			switch o {
			case OutcomeSuccess:
				done(true)
			case OutcomeFailure:
				done(false)
			default:
				// gobreaker 无法释放探测名额：HalfOpen 下按失败处理重新进入 Open，
				// Closed 下不上报，不影响连续失败计数。
				if before == gobreaker.StateHalfOpen {
					done(false)
				}
			}
		})
	}, nil
}

func (b *gobreakerBreaker) State() State {
	return fromGobreaker(b.cb.State())
}

func (b *gobreakerBreaker) Snapshot() Snapshot {
	state := fromGobreaker(b.cb.State())
	counts := b.cb.Counts()
	s := Snapshot{
		Name:                b.name,
		State:               state,
		ConsecutiveFailures: int(counts.ConsecutiveFailures),
	}
	if opened := b.openedAt.Load(); opened > 0 {
		s.LastFailure = time.Unix(0, opened)
	}
	if state == StateOpen {
		s.RetryAfter = b.retryAfter()
	}
	return s
}

func (b *gobreakerBreaker) retryAfter() time.Duration {
	opened := b.openedAt.Load()
	if opened == 0 {
		return probeRetryAfter
	}
	remaining := b.recovery - time.Since(time.Unix(0, opened))
	if remaining <= 0 {
		return probeRetryAfter
	}
	return remaining
}

func (b *gobreakerBreaker) onStateChange(name string, from gobreaker.State, to gobreaker.State) {
	if to == gobreaker.StateOpen {
		b.openedAt.Store(time.Now().UnixNano())
	}
	b.logger.Warn("circuit breaker state changed",
		clog.String("name", name),
		clog.String("from", fromGobreaker(from).String()),
		clog.String("to", fromGobreaker(to).String()))
	b.metrics.transition(fromGobreaker(from), fromGobreaker(to))
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
