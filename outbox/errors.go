package outbox

import "errors"

var (
	// ErrNotFound indicates the requested outbox record does not exist.
	ErrNotFound = errors.New("outbox record not found")

	// ErrTransactionRequired indicates Publish was called without an open
	// transaction. Outbox inserts must share the business transaction.
	ErrTransactionRequired = errors.New("outbox publish requires an open transaction")

	// ErrRecordRequired indicates a nil record was passed to an operation.
	ErrRecordRequired = errors.New("outbox record is required")

	// ErrRepositoryRequired indicates the component was built without a repository.
	ErrRepositoryRequired = errors.New("outbox repository is required")

	// ErrTransportRequired indicates the poller was built without a transport publisher.
	ErrTransportRequired = errors.New("outbox transport publisher is required")

	// ErrChannelInvalid indicates an unknown delivery channel.
	ErrChannelInvalid = errors.New("invalid delivery channel")

	// ErrStatusInvalid indicates an unknown lifecycle status.
	ErrStatusInvalid = errors.New("invalid outbox status")

	// ErrTransitionInvalid indicates a lifecycle transition the state machine forbids.
	ErrTransitionInvalid = errors.New("invalid outbox status transition")

	// ErrEventTypeRequired indicates an empty event type on publish.
	ErrEventTypeRequired = errors.New("outbox event type is required")

	// ErrMessageIDRequired indicates a zero message reference on publish.
	ErrMessageIDRequired = errors.New("outbox message id is required")

	// ErrAlreadyRunning indicates Run was called on a poller that is running.
	ErrAlreadyRunning = errors.New("outbox poller already running")

	// ErrNotRunning indicates Stop was called on a poller that never started.
	ErrNotRunning = errors.New("outbox poller not running")
)
