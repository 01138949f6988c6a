//go:build unit

package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeRepository struct {
	mu sync.Mutex

	records map[uuid.UUID]*OutboxRecord

	claimErr       error
	markFailedErr  error
	createErr      error
	resetStuckN    int64
	resetStuckErr  error
	cleanupN       int64
	cleanupErr     error
	resetStuckSeen []time.Time
	cleanupSeen    []time.Time
	failedSeen     []*OutboxRecord
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: map[uuid.UUID]*OutboxRecord{}}
}

func (repo *fakeRepository) add(record *OutboxRecord) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.records[record.ID] = record
}

func (repo *fakeRepository) CreateWithTx(_ context.Context, tx Tx, record *OutboxRecord) (*OutboxRecord, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}

	if repo.createErr != nil {
		return nil, repo.createErr
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, existing := range repo.records {
		if existing.Channel == record.Channel &&
			existing.MessageID == record.MessageID &&
			existing.EventType == record.EventType {
			return existing, nil
		}
	}

	repo.records[record.ID] = record

	return record, nil
}

func (repo *fakeRepository) GetByID(_ context.Context, id uuid.UUID) (*OutboxRecord, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	record, ok := repo.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	return record, nil
}

func (repo *fakeRepository) ClaimReady(_ context.Context, limit int) ([]*OutboxRecord, error) {
	if repo.claimErr != nil {
		return nil, repo.claimErr
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	now := time.Now().UTC()
	claimed := make([]*OutboxRecord, 0)

	for _, record := range repo.records {
		if len(claimed) >= limit {
			break
		}

		if record.IsReady(now) {
			record.Status = StatusProcessing
			startedAt := now
			record.ProcessingStartedAt = &startedAt
			claimed = append(claimed, record)
		}
	}

	return claimed, nil
}

func (repo *fakeRepository) MarkProcessed(_ context.Context, id uuid.UUID, processedAt time.Time) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	record, ok := repo.records[id]
	if !ok {
		return ErrNotFound
	}

	record.Status = StatusProcessed
	record.ProcessedAt = &processedAt

	return nil
}

func (repo *fakeRepository) MarkFailed(_ context.Context, record *OutboxRecord) error {
	if repo.markFailedErr != nil {
		return repo.markFailedErr
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.failedSeen = append(repo.failedSeen, record)
	repo.records[record.ID] = record

	return nil
}

func (repo *fakeRepository) MarkInvalid(_ context.Context, id uuid.UUID, lastError string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	record, ok := repo.records[id]
	if !ok {
		return ErrNotFound
	}

	record.Status = StatusInvalid
	record.LastError = lastError
	record.NextAttemptAt = nil

	return nil
}

func (repo *fakeRepository) ResetStuck(_ context.Context, stuckBefore time.Time, _ int) (int64, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.resetStuckSeen = append(repo.resetStuckSeen, stuckBefore)

	return repo.resetStuckN, repo.resetStuckErr
}

func (repo *fakeRepository) DeleteProcessedBefore(_ context.Context, threshold time.Time) (int64, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.cleanupSeen = append(repo.cleanupSeen, threshold)

	return repo.cleanupN, repo.cleanupErr
}

type fakeTransport struct {
	mu        sync.Mutex
	published []*OutboxRecord
	errFor    map[uuid.UUID]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{errFor: map[uuid.UUID]error{}}
}

func (transport *fakeTransport) PublishRecord(_ context.Context, record *OutboxRecord) (string, error) {
	transport.mu.Lock()
	defer transport.mu.Unlock()

	if err, ok := transport.errFor[record.ID]; ok {
		return "", err
	}

	transport.published = append(transport.published, record)

	return "transport-" + record.ID.String(), nil
}

type fakeLocker struct {
	mu       sync.Mutex
	acquired bool
	err      error
	keys     []string
}

func (locker *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) (bool, error) {
	locker.mu.Lock()
	locker.keys = append(locker.keys, key)
	acquired, err := locker.acquired, locker.err
	locker.mu.Unlock()

	if err != nil {
		return false, err
	}

	if !acquired {
		return false, nil
	}

	return true, fn(ctx)
}
