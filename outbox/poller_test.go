//go:build unit

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func pendingRecord(t *testing.T) *OutboxRecord {
	t.Helper()

	record, err := NewOutboxRecord(ChannelEmail, uuid.New(), "NOTIFICATION_REQUESTED", 3)
	require.NoError(t, err)

	return record
}

func TestNewPollerValidation(t *testing.T) {
	transport := newFakeTransport()

	_, err := NewPoller(nil, transport)
	require.ErrorIs(t, err, ErrRepositoryRequired)

	_, err = NewPoller(newFakeRepository(), nil)
	require.ErrorIs(t, err, ErrTransportRequired)
}

func TestPollOnceClaimsAndPublishes(t *testing.T) {
	repo := newFakeRepository()
	transport := newFakeTransport()

	first := pendingRecord(t)
	second := pendingRecord(t)
	repo.add(first)
	repo.add(second)

	poller, err := NewPoller(repo, transport)
	require.NoError(t, err)

	result := poller.PollOnce(context.Background())

	require.Equal(t, 2, result.Claimed)
	require.Equal(t, 2, result.Published)
	require.Zero(t, result.Failed)
	require.Len(t, transport.published, 2)

	// Claimed records stay PROCESSING after publish: the consumer
	// finalizes them once the delivery attempt completes.
	require.Equal(t, StatusProcessing, first.Status)
	require.NotNil(t, first.ProcessingStartedAt)
}

func TestPollOnceFailureIsolatedPerRecord(t *testing.T) {
	repo := newFakeRepository()
	transport := newFakeTransport()

	healthy := pendingRecord(t)
	broken := pendingRecord(t)
	repo.add(healthy)
	repo.add(broken)
	transport.errFor[broken.ID] = errors.New("broker unavailable")

	poller, err := NewPoller(repo, transport)
	require.NoError(t, err)

	result := poller.PollOnce(context.Background())

	require.Equal(t, 2, result.Claimed)
	require.Equal(t, 1, result.Published)
	require.Equal(t, 1, result.Failed)

	require.Len(t, repo.failedSeen, 1)
	require.Equal(t, broken.ID, repo.failedSeen[0].ID)
	require.Equal(t, StatusFailed, broken.Status)
	require.Equal(t, 1, broken.AttemptCount)
	require.NotNil(t, broken.NextAttemptAt)
}

func TestPollOnceFailedRecordReclaimedAfterBackoff(t *testing.T) {
	repo := newFakeRepository()
	transport := newFakeTransport()

	record := pendingRecord(t)
	record.Status = StatusFailed
	record.AttemptCount = 1
	past := time.Now().UTC().Add(-time.Second)
	record.NextAttemptAt = &past
	repo.add(record)

	poller, err := NewPoller(repo, transport)
	require.NoError(t, err)

	result := poller.PollOnce(context.Background())

	require.Equal(t, 1, result.Claimed)
	require.Equal(t, 1, result.Published)
}

func TestPollOnceClaimErrorReturnsEmptyResult(t *testing.T) {
	repo := newFakeRepository()
	repo.claimErr = errors.New("database down")

	poller, err := NewPoller(repo, newFakeTransport())
	require.NoError(t, err)

	result := poller.PollOnce(context.Background())

	require.Zero(t, result.Claimed)
	require.Zero(t, result.Published)
	require.Zero(t, result.Failed)
}

func TestResetStuckUsesThreshold(t *testing.T) {
	repo := newFakeRepository()
	repo.resetStuckN = 3

	config := DefaultPollerConfig()
	config.StuckThreshold = 2 * time.Hour

	poller, err := NewPoller(repo, newFakeTransport(), WithConfig(config))
	require.NoError(t, err)

	before := time.Now().UTC().Add(-2 * time.Hour)
	poller.ResetStuck(context.Background())

	require.Len(t, repo.resetStuckSeen, 1)
	require.WithinDuration(t, before, repo.resetStuckSeen[0], time.Minute)
}

func TestCleanupUsesRetention(t *testing.T) {
	repo := newFakeRepository()
	repo.cleanupN = 10

	poller, err := NewPoller(repo, newFakeTransport())
	require.NoError(t, err)

	poller.CleanupProcessed(context.Background())

	require.Len(t, repo.cleanupSeen, 1)
	require.WithinDuration(t,
		time.Now().UTC().Add(-DefaultPollerConfig().RetentionPeriod),
		repo.cleanupSeen[0],
		time.Minute,
	)
}

func TestMaintenanceSkipsWhenLockHeldElsewhere(t *testing.T) {
	repo := newFakeRepository()
	locker := &fakeLocker{acquired: false}

	poller, err := NewPoller(repo, newFakeTransport(), WithLocker(locker))
	require.NoError(t, err)

	poller.ResetStuck(context.Background())
	poller.CleanupProcessed(context.Background())

	require.Empty(t, repo.resetStuckSeen)
	require.Empty(t, repo.cleanupSeen)
	require.Equal(t, []string{lockKeyStuckReset, lockKeyCleanup}, locker.keys)
}

func TestMaintenanceRunsUnderAcquiredLock(t *testing.T) {
	repo := newFakeRepository()
	locker := &fakeLocker{acquired: true}

	poller, err := NewPoller(repo, newFakeTransport(), WithLocker(locker))
	require.NoError(t, err)

	poller.ResetStuck(context.Background())

	require.Len(t, repo.resetStuckSeen, 1)
}

func TestRunStopShutdown(t *testing.T) {
	repo := newFakeRepository()
	repo.add(pendingRecord(t))

	config := DefaultPollerConfig()
	config.PollInterval = 10 * time.Millisecond

	poller, err := NewPoller(repo, newFakeTransport(), WithConfig(config))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- poller.Run(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	poller.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, poller.Shutdown(shutdownCtx))
}

func TestRunRejectsSecondStart(t *testing.T) {
	poller, err := NewPoller(newFakeRepository(), newFakeTransport())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = poller.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)

	err = poller.Run(ctx)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	poller.Stop()
}
