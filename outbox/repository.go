package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Tx is the transaction handle shared between business writes and outbox
// inserts. Publish refuses to run without one.
type Tx = *sql.Tx

// Repository persists outbox records. Implementations must make ClaimReady
// safe for concurrent pollers: two instances claiming at the same time must
// never return the same record.
type Repository interface {
	// CreateWithTx inserts the record inside the caller's transaction. When a
	// record for the same (channel, message, event type) intent already
	// exists, implementations return the existing record unchanged so that
	// publishing is idempotent within a retried business transaction.
	CreateWithTx(ctx context.Context, tx Tx, record *OutboxRecord) (*OutboxRecord, error)

	// GetByID loads a single record or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*OutboxRecord, error)

	// ClaimReady atomically selects up to limit ready records, oldest first,
	// moves them to PROCESSING and stamps processing_started_at. Ready means
	// PENDING, or retryable FAILED whose next attempt time has passed.
	ClaimReady(ctx context.Context, limit int) ([]*OutboxRecord, error)

	// MarkProcessed finalizes a PROCESSING record after acknowledged delivery.
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// MarkFailed persists the retry bookkeeping computed on the record:
	// status, attempt count, next attempt time and last error. The record
	// must currently be PROCESSING in storage.
	MarkFailed(ctx context.Context, record *OutboxRecord) error

	// MarkInvalid terminally marks a record whose payload does not exist.
	MarkInvalid(ctx context.Context, id uuid.UUID, lastError string) error

	// ResetStuck returns PROCESSING records whose claim is older than
	// stuckBefore back to PENDING, up to limit rows, and reports how many
	// were reset.
	ResetStuck(ctx context.Context, stuckBefore time.Time, limit int) (int64, error)

	// DeleteProcessedBefore removes PROCESSED records older than the
	// threshold and reports how many were deleted.
	DeleteProcessedBefore(ctx context.Context, threshold time.Time) (int64, error)
}

// TransportPublisher hands a claimed record to the delivery queue. The
// returned id is the transport's message identifier, used for logging only.
type TransportPublisher interface {
	PublishRecord(ctx context.Context, record *OutboxRecord) (string, error)
}

// Locker serializes maintenance jobs across poller instances. WithLock runs
// fn only when the lock was acquired; acquired reports whether it ran.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (acquired bool, err error)
}
