package outbox

import (
	"time"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/backoff"
)

// partitionKeyLayout is a compact calendar date, used to bucket records for
// retention sweeps.
const partitionKeyLayout = "20060102"

// OutboxRecord is one row of the transactional outbox. It references a
// channel payload by MessageID; the payload itself lives in the channel's
// message table and is written in the same transaction.
type OutboxRecord struct {
	ID                  uuid.UUID
	Channel             Channel
	MessageID           uuid.UUID
	EventType           string
	Status              Status
	AttemptCount        int
	MaxAttempts         int
	NextAttemptAt       *time.Time
	LastError           string
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	PartitionKey        string
	CreatedAt           time.Time
}

// NewOutboxRecord builds a PENDING record for the given channel payload.
func NewOutboxRecord(channel Channel, messageID uuid.UUID, eventType string, maxAttempts int) (*OutboxRecord, error) {
	if !channel.IsValid() {
		return nil, ErrChannelInvalid
	}

	if messageID == uuid.Nil {
		return nil, ErrMessageIDRequired
	}

	if eventType == "" {
		return nil, ErrEventTypeRequired
	}

	now := time.Now().UTC()

	return &OutboxRecord{
		ID:           uuid.New(),
		Channel:      channel,
		MessageID:    messageID,
		EventType:    eventType,
		Status:       StatusPending,
		AttemptCount: 0,
		MaxAttempts:  maxAttempts,
		PartitionKey: now.Format(partitionKeyLayout),
		CreatedAt:    now,
	}, nil
}

// ScheduleRetry records a failed attempt. While attempts remain it moves the
// record to FAILED with a next attempt time derived from the policy; once
// attempts are exhausted it moves to FAILED with a nil NextAttemptAt, which
// is the terminal-failure marker.
func (record *OutboxRecord) ScheduleRetry(now time.Time, policy backoff.Policy, lastError string) error {
	if err := record.Status.EnsureTransition(StatusFailed); err != nil {
		return err
	}

	record.AttemptCount++
	record.Status = StatusFailed
	record.LastError = lastError

	if record.AttemptCount >= record.MaxAttempts {
		record.NextAttemptAt = nil
		return nil
	}

	next := now.Add(policy.Delay(record.AttemptCount - 1))
	record.NextAttemptAt = &next

	return nil
}

// ExhaustRetries terminally fails the record regardless of remaining
// attempts. Used for permanent delivery errors where retrying cannot help.
func (record *OutboxRecord) ExhaustRetries(lastError string) error {
	if err := record.Status.EnsureTransition(StatusFailed); err != nil {
		return err
	}

	record.AttemptCount++
	record.Status = StatusFailed
	record.LastError = lastError
	record.NextAttemptAt = nil

	return nil
}

// IsExhausted reports whether the record has terminally failed.
func (record *OutboxRecord) IsExhausted() bool {
	return record.Status == StatusFailed && record.NextAttemptAt == nil
}

// IsReady reports whether a poller may claim the record at the given time.
func (record *OutboxRecord) IsReady(now time.Time) bool {
	switch record.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return record.NextAttemptAt != nil && !record.NextAttemptAt.After(now)
	default:
		return false
	}
}
