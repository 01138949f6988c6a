//go:build unit

package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond

	require.Equal(t, base, Exponential(base, 0))
	require.Equal(t, 200*time.Millisecond, Exponential(base, 1))
	require.Equal(t, 400*time.Millisecond, Exponential(base, 2))

	// Huge attempts must not overflow into negative durations.
	require.Positive(t, Exponential(base, 500))
}

func TestExponentialNonPositiveBase(t *testing.T) {
	require.Equal(t, time.Duration(0), Exponential(0, 3))
	require.Equal(t, time.Duration(0), Exponential(-time.Second, 3))
}

func TestFullJitterWithinBounds(t *testing.T) {
	delay := time.Second

	for i := 0; i < 100; i++ {
		jittered := FullJitter(delay)
		require.GreaterOrEqual(t, jittered, time.Duration(0))
		require.LessOrEqual(t, jittered, delay)
	}
}

func TestPolicyDelayMonotoneUntilCap(t *testing.T) {
	policy := Policy{Initial: 10 * time.Second, Max: 180 * time.Second}

	previous := time.Duration(0)

	for attempt := 0; attempt < 10; attempt++ {
		delay := policy.Delay(attempt)
		require.GreaterOrEqual(t, delay, previous)
		require.LessOrEqual(t, delay, policy.Max)
		previous = delay
	}

	require.Equal(t, policy.Max, policy.Delay(64))
}

func TestPolicyDelayFirstAttempt(t *testing.T) {
	policy := Policy{Initial: time.Minute, Max: 10 * time.Minute}

	require.Equal(t, time.Minute, policy.Delay(0))
	require.Equal(t, 2*time.Minute, policy.Delay(1))
}

func TestPolicyValid(t *testing.T) {
	require.True(t, Policy{Initial: time.Second, Max: time.Minute}.Valid())
	require.False(t, Policy{Initial: 0, Max: time.Minute}.Valid())
	require.False(t, Policy{Initial: time.Minute, Max: time.Second}.Valid())
}

func TestWaitContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitContext(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitContextElapses(t *testing.T) {
	require.NoError(t, WaitContext(context.Background(), time.Millisecond))
}
