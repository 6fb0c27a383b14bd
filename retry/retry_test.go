package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scribesnap/xerrors"
)

var (
	errTransient = errors.New("upstream 503")
	errBadInput  = errors.New("upstream 400")
	errRejected  = errors.New("breaker open")
)

func testClassifier(err error) Class {
	switch {
	case errors.Is(err, errRejected):
		return ClassRejected
	case errors.Is(err, errBadInput):
		return ClassNonRetryable
	default:
		return ClassRetryable
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestRetrier(t *testing.T, cfg *Config, rec *sleepRecorder, opts ...Option) *Retrier {
	t.Helper()
	opts = append([]Option{
		WithClassifier(testClassifier),
		WithSleep(rec.sleep),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
	}, opts...)
	r, err := New(cfg, opts...)
	require.NoError(t, err)
	return r
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{MaxAttempts: -1})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = New(&Config{MinDelay: 5 * time.Second, MaxDelay: time.Second})
	assert.ErrorIs(t, err, ErrInvalidDelay)

	r, err := New(&Config{})
	require.NoError(t, err)
	cfg := r.Config()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.MinDelay)
	assert.Equal(t, 10*time.Second, cfg.MaxDelay)
	assert.Equal(t, time.Second, cfg.JitterMax)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	r := newTestRetrier(t, &Config{MaxAttempts: 3}, rec)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoExhausted(t *testing.T) {
	rec := &sleepRecorder{}
	r := newTestRetrier(t, &Config{MaxAttempts: 3, MinDelay: 2 * time.Second, MaxDelay: 10 * time.Second}, rec)

	var attempts []int
	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return errTransient
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ReasonExhausted, rerr.Reason)
	assert.Equal(t, 3, rerr.Attempts)
	assert.Equal(t, errTransient, errors.Unwrap(err))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestDoNonRetryableStopsAfterOneAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	r := newTestRetrier(t, &Config{MaxAttempts: 3}, rec)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errBadInput
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrNonRetryable)
	assert.NotErrorIs(t, err, ErrExhausted)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Attempts)
}

func TestDoRejectedIsTerminal(t *testing.T) {
	rec := &sleepRecorder{}
	r := newTestRetrier(t, &Config{MaxAttempts: 5}, rec)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 2 {
			return errRejected
		}
		return errTransient
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, errRejected)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Attempts, "rejected attempt is not counted")
	assert.Len(t, rec.delays, 1)
}

func TestDoSingleAttemptMeansNoRetry(t *testing.T) {
	rec := &sleepRecorder{}
	r := newTestRetrier(t, &Config{MaxAttempts: 1}, rec)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Empty(t, rec.delays)
}

func TestDoRecoversOnThirdAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	var events []Event
	r := newTestRetrier(t, &Config{Name: "extraction", MaxAttempts: 3}, rec,
		WithObserver(func(e Event) { events = append(events, e) }))

	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "extraction", events[0].Name)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, 2, events[1].Attempt)
	assert.ErrorIs(t, events[1].Err, errTransient)
}

func TestDoCanceled(t *testing.T) {
	t.Run("等待期间取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		r, err := New(&Config{MaxAttempts: 3, MinDelay: time.Hour, MaxDelay: time.Hour},
			WithClassifier(testClassifier))
		require.NoError(t, err)

		calls := 0
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		err = r.Do(ctx, func(ctx context.Context, attempt int) error {
			calls++
			return errTransient
		})
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, ErrCanceled)
		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, 1, rerr.Attempts)
		assert.ErrorIs(t, rerr.Last, errTransient)
	})

	t.Run("开始前已取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := newTestRetrier(t, &Config{}, &sleepRecorder{})

		calls := 0
		err := r.Do(ctx, func(ctx context.Context, attempt int) error {
			calls++
			return nil
		})
		assert.Zero(t, calls)
		assert.ErrorIs(t, err, ErrCanceled)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDoAttemptTimeout(t *testing.T) {
	rec := &sleepRecorder{}
	r := newTestRetrier(t, &Config{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond}, rec)

	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 10*time.Millisecond)
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackoff(t *testing.T) {
	r := newTestRetrier(t, &Config{MinDelay: 2 * time.Second, MaxDelay: 10 * time.Second}, &sleepRecorder{})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{60, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestJitterNeverShortensDelay(t *testing.T) {
	rec := &sleepRecorder{}
	r, err := New(&Config{MaxAttempts: 2, MinDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterMax: 50 * time.Millisecond},
		WithSleep(rec.sleep))
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		_ = r.Do(context.Background(), func(ctx context.Context, attempt int) error {
			return errTransient
		})
	}
	require.Len(t, rec.delays, 200)
	for _, d := range rec.delays {
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	err := xerrors.Wrap(Permanent(errBadInput), "extract")
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, errBadInput)
	assert.Equal(t, ClassNonRetryable, DefaultClassifier(err))
	assert.Equal(t, ClassRetryable, DefaultClassifier(errTransient))
}
