package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scribesnap/xerrors"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStandalone(t *testing.T, limit int, window time.Duration, opts ...Option) *Standalone {
	t.Helper()
	l, err := NewStandalone(&Config{Limit: limit, Window: window}, opts...)
	require.NoError(t, err)
	return l
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{Limit: -1})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = New(&Config{Driver: "memcached"})
	assert.ErrorIs(t, err, ErrInvalidLimit)

	_, err = New(&Config{Driver: DriverRedis})
	assert.ErrorIs(t, err, ErrConnectorNil)

	l, err := New(&Config{})
	require.NoError(t, err)
	assert.IsType(t, &Standalone{}, l)
}

func TestStandaloneAdmitWithinWindow(t *testing.T) {
	l := newTestStandalone(t, 3, 10*time.Second)

	for i := 0; i < 3; i++ {
		d := l.AdmitAt("10.0.0.1", epoch.Add(time.Duration(i)*time.Second))
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := l.AdmitAt("10.0.0.1", epoch.Add(3*time.Second))
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	// 最早的记录在 epoch，epoch+10s 滑出窗口
	assert.Equal(t, 7*time.Second, d.RetryAfter)

	t.Run("不同 key 独立计数", func(t *testing.T) {
		assert.True(t, l.AdmitAt("10.0.0.2", epoch.Add(3*time.Second)).Allowed)
	})

	t.Run("最早记录滑出后恢复", func(t *testing.T) {
		// 边界：时间戳恰好等于 now - window 时视为已滑出
		assert.True(t, l.AdmitAt("10.0.0.1", epoch.Add(10*time.Second)).Allowed)
		assert.False(t, l.AdmitAt("10.0.0.1", epoch.Add(10*time.Second)).Allowed)
	})
}

func TestStandaloneRetryAfterAtLeastOneSecond(t *testing.T) {
	l := newTestStandalone(t, 1, time.Second)

	require.True(t, l.AdmitAt("k", epoch).Allowed)
	d := l.AdmitAt("k", epoch.Add(999*time.Millisecond))
	require.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	l2 := newTestStandalone(t, 1, 10*time.Second)
	require.True(t, l2.AdmitAt("k", epoch).Allowed)
	d = l2.AdmitAt("k", epoch.Add(1500*time.Millisecond))
	assert.Equal(t, 9*time.Second, d.RetryAfter, "8.5s rounds up")
}

func TestStandaloneOutOfOrderTimestamps(t *testing.T) {
	l := newTestStandalone(t, 2, 10*time.Second)

	require.True(t, l.AdmitAt("k", epoch.Add(5*time.Second)).Allowed)
	require.True(t, l.AdmitAt("k", epoch.Add(2*time.Second)).Allowed)

	d := l.AdmitAt("k", epoch.Add(6*time.Second))
	require.False(t, d.Allowed)
	assert.Equal(t, 6*time.Second, d.RetryAfter, "earliest is epoch+2s")
}

func TestStandaloneConcurrentAdmissions(t *testing.T) {
	const n = 50
	l := newTestStandalone(t, n, time.Hour)

	var allowed, rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := l.Admit(context.Background(), "shared")
			if err != nil {
				return
			}
			if d.Allowed {
				allowed.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(n), allowed.Load())
	assert.Equal(t, int32(n), rejected.Load())
}

func TestStandaloneSweep(t *testing.T) {
	l := newTestStandalone(t, 5, 10*time.Second)

	for i := 0; i < 20; i++ {
		l.AdmitAt(fmt.Sprintf("client-%d", i), epoch)
	}
	l.AdmitAt("recent", epoch.Add(8*time.Second))
	require.Equal(t, 21, l.Len())

	assert.Zero(t, l.Sweep(epoch.Add(5*time.Second)))
	assert.Equal(t, 20, l.Sweep(epoch.Add(10*time.Second)))
	assert.Equal(t, 1, l.Len())

	// 被清理的 key 再次请求时从空窗口开始
	d := l.AdmitAt("client-0", epoch.Add(11*time.Second))
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, 2, l.Len())
}

func TestStandaloneAmortizedCleanup(t *testing.T) {
	l, err := NewStandalone(&Config{Limit: 10, Window: time.Second, CleanupEvery: 5})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		l.AdmitAt(fmt.Sprintf("old-%d", i), epoch)
	}
	require.Equal(t, 4, l.Len())

	// 第 5 次准入触发清理，old-* 已经过期
	l.AdmitAt("new", epoch.Add(2*time.Second))
	assert.Equal(t, 1, l.Len())
}

func TestStandaloneAdmitUsesClock(t *testing.T) {
	now := epoch
	l := newTestStandalone(t, 1, time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := l.Admit(ctx, "")
	assert.ErrorIs(t, err, ErrKeyEmpty)

	d, err := l.Admit(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, _ = l.Admit(ctx, "k")
	assert.False(t, d.Allowed)

	now = now.Add(time.Minute)
	d, _ = l.Admit(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestRetryAfterRounding(t *testing.T) {
	assert.Equal(t, time.Second, retryAfter(0))
	assert.Equal(t, time.Second, retryAfter(-time.Second))
	assert.Equal(t, time.Second, retryAfter(time.Millisecond))
	assert.Equal(t, 2*time.Second, retryAfter(1001*time.Millisecond))
	assert.Equal(t, 3600*time.Second, retryAfter(time.Hour))
}
