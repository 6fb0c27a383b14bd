package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scribesnap/testkit"
)

func newTestRedisLimiter(t *testing.T, limit int, window time.Duration) Limiter {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	conn := testkit.NewRedisContainerConnector(t)

	l, err := New(&Config{
		Driver: DriverRedis,
		Limit:  limit,
		Window: window,
		Prefix: "test:" + testkit.NewID() + ":",
	}, WithRedisConnector(conn), WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRedisLimiterSlidingWindow(t *testing.T) {
	l := newTestRedisLimiter(t, 3, 2*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Admit(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfter, time.Second)
	assert.LessOrEqual(t, d.RetryAfter, 2*time.Second)

	d, err = l.Admit(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	time.Sleep(2100 * time.Millisecond)
	d, err = l.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiterConcurrentAdmissions(t *testing.T) {
	const n = 20
	l := newTestRedisLimiter(t, n, time.Minute)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Admit(context.Background(), "shared")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(n), allowed.Load())
}
