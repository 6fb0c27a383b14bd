package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGobreaker(t *testing.T, threshold int, recovery time.Duration) Breaker {
	t.Helper()
	b, err := New(&Config{
		Driver:           DriverGobreaker,
		Name:             "extraction",
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
	})
	require.NoError(t, err)
	return b
}

func fail(t *testing.T, b Breaker) {
	t.Helper()
	done, err := b.Allow()
	require.NoError(t, err)
	done(OutcomeFailure)
}

func TestGobreakerTripsAtThreshold(t *testing.T) {
	b := newTestGobreaker(t, 3, time.Minute)

	fail(t, b)
	fail(t, b)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)

	fail(t, b)
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Allow()
	require.ErrorIs(t, err, ErrOpen)
	retryAfter, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Greater(t, retryAfter, 50*time.Second)
	assert.LessOrEqual(t, retryAfter, time.Minute)
}

func TestGobreakerHalfOpenSingleProbe(t *testing.T) {
	b := newTestGobreaker(t, 1, 50*time.Millisecond)
	fail(t, b)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)

	done, err := b.Allow()
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen)

	done(OutcomeSuccess)
	assert.Equal(t, StateClosed, b.State())
}

func TestGobreakerIgnoredInClosedDoesNotCount(t *testing.T) {
	b := newTestGobreaker(t, 1, time.Minute)

	done, err := b.Allow()
	require.NoError(t, err)
	done(OutcomeIgnored)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestGobreakerRequiresPositiveTimeout(t *testing.T) {
	_, err := New(&Config{Driver: DriverGobreaker, RecoveryTimeout: -1})
	assert.Error(t, err)
}
