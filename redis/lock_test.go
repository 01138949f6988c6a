//go:build unit

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLockManager(t *testing.T) *LockManager {
	t.Helper()

	server := miniredis.RunT(t)

	client := goredislib.NewClient(&goredislib.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager, err := NewLockManager(client)
	require.NoError(t, err)

	return manager
}

func TestNewLockManagerRequiresClient(t *testing.T) {
	_, err := NewLockManager(nil)
	require.ErrorIs(t, err, ErrClientRequired)
}

func TestWithLockValidation(t *testing.T) {
	manager := testLockManager(t)
	ctx := context.Background()
	fn := func(context.Context) error { return nil }

	_, err := manager.WithLock(ctx, "", time.Minute, fn)
	require.ErrorIs(t, err, ErrEmptyLockKey)

	_, err = manager.WithLock(ctx, "key", 0, fn)
	require.ErrorIs(t, err, ErrLockExpiryInvalid)

	_, err = manager.WithLock(ctx, "key", time.Minute, nil)
	require.ErrorIs(t, err, ErrNilLockFn)
}

func TestWithLockRunsCriticalSection(t *testing.T) {
	manager := testLockManager(t)

	ran := false

	acquired, err := manager.WithLock(context.Background(), "maintenance", time.Minute, func(context.Context) error {
		ran = true

		return nil
	})
	require.NoError(t, err)
	require.True(t, acquired)
	require.True(t, ran)
}

func TestWithLockReleasesAfterCriticalSection(t *testing.T) {
	manager := testLockManager(t)
	ctx := context.Background()
	fn := func(context.Context) error { return nil }

	acquired, err := manager.WithLock(ctx, "maintenance", time.Minute, fn)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = manager.WithLock(ctx, "maintenance", time.Minute, fn)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestWithLockHeldElsewhereIsNotAnError(t *testing.T) {
	manager := testLockManager(t)
	ctx := context.Background()

	release := make(chan struct{})
	holding := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _ = manager.WithLock(ctx, "maintenance", time.Minute, func(context.Context) error {
			close(holding)
			<-release

			return nil
		})
	}()

	<-holding

	acquired, err := manager.WithLock(ctx, "maintenance", time.Minute, func(context.Context) error {
		t.Error("critical section must not run without the lock")

		return nil
	})
	require.NoError(t, err)
	require.False(t, acquired)

	close(release)
	<-done
}

func TestWithLockPropagatesCriticalSectionError(t *testing.T) {
	manager := testLockManager(t)

	wantErr := context.DeadlineExceeded

	acquired, err := manager.WithLock(context.Background(), "maintenance", time.Minute, func(context.Context) error {
		return wantErr
	})
	require.True(t, acquired)
	require.ErrorIs(t, err, wantErr)
}
