package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/tsu-platform/notify/outbox"
)

var (
	// ErrClientRequired indicates a nil client was passed to the manager.
	ErrClientRequired = errors.New("redis client is required")

	// ErrEmptyLockKey indicates an empty lock key.
	ErrEmptyLockKey = errors.New("lock key cannot be empty")

	// ErrLockExpiryInvalid indicates a non-positive lock TTL.
	ErrLockExpiryInvalid = errors.New("lock expiry must be greater than 0")

	// ErrNilLockFn indicates a nil critical section.
	ErrNilLockFn = errors.New("lock function is nil")
)

// LockManager provides distributed mutual exclusion over Redis, used to keep
// the outbox maintenance jobs single-flight across poller instances.
type LockManager struct {
	redsync *redsync.Redsync
}

var _ outbox.Locker = (*LockManager)(nil)

// NewLockManager builds a lock manager over the given client.
func NewLockManager(client *goredislib.Client) (*LockManager, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	pool := goredis.NewPool(client)

	return &LockManager{redsync: redsync.New(pool)}, nil
}

// WithLock runs fn while holding the named lock. A single acquisition try:
// losing the race reports acquired=false with no error, which maintenance
// jobs treat as another instance doing the work.
func (manager *LockManager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	if key == "" {
		return false, ErrEmptyLockKey
	}

	if ttl <= 0 {
		return false, ErrLockExpiryInvalid
	}

	if fn == nil {
		return false, ErrNilLockFn
	}

	mutex := manager.redsync.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) {
			return false, nil
		}

		if errors.Is(err, redsync.ErrFailed) {
			return false, nil
		}

		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}

	defer func() {
		// Best effort: an expired lock unlocks itself.
		_, _ = mutex.UnlockContext(ctx)
	}()

	return true, fn(ctx)
}
