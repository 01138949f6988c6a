// Package backoff provides exponential retry delay calculations, jitter, and
// the per-channel delay policies used to schedule redelivery attempts.
package backoff

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt with overflow protection. Negative
// attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1 << attempt)

	baseInt := int64(base)
	if baseInt > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(baseInt * multiplier)
}

// FullJitter returns a random duration in [0, delay). Returns 0 for zero or
// negative delays.
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		// Entropy exhaustion: fall back to the midpoint instead of stalling.
		return delay / 2
	}

	return time.Duration(n.Int64())
}

// ExponentialWithJitter returns a random duration in [0, base * 2^attempt),
// the "full jitter" strategy.
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	return FullJitter(Exponential(base, attempt))
}

// WaitContext sleeps for duration, returning early with an error when ctx is
// cancelled. Zero and negative durations return immediately.
func WaitContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// Policy is a bounded exponential delay schedule. Delays start at Initial,
// double per attempt, and never exceed Max. The schedule is deterministic so
// successive gaps are non-decreasing; jitter belongs to transport-level
// retries, not to persisted next-attempt timestamps.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the delay to wait before retrying after the given
// zero-indexed attempt.
func (policy Policy) Delay(attempt int) time.Duration {
	delay := Exponential(policy.Initial, attempt)

	if policy.Max > 0 && delay > policy.Max {
		return policy.Max
	}

	return delay
}

// Valid reports whether the policy has a usable delay range.
func (policy Policy) Valid() bool {
	return policy.Initial > 0 && policy.Max >= policy.Initial
}
