package outbox

import (
	"context"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
)

// DefaultMaxAttempts is the delivery attempt budget for a record when the
// channel has no explicit override.
const DefaultMaxAttempts = 3

// Publisher writes outbox records inside the caller's business transaction.
// The record and the channel payload commit or roll back together; there is
// no code path that publishes outside a transaction.
type Publisher struct {
	repository  Repository
	logger      log.Logger
	maxAttempts map[Channel]int
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger log.Logger) PublisherOption {
	return func(publisher *Publisher) {
		publisher.logger = logger
	}
}

// WithMaxAttempts overrides the attempt budget for one channel.
func WithMaxAttempts(channel Channel, attempts int) PublisherOption {
	return func(publisher *Publisher) {
		if attempts > 0 {
			publisher.maxAttempts[channel] = attempts
		}
	}
}

// NewPublisher builds a Publisher over the given repository.
func NewPublisher(repository Repository, opts ...PublisherOption) (*Publisher, error) {
	if nilcheck.Interface(repository) {
		return nil, ErrRepositoryRequired
	}

	publisher := &Publisher{
		repository:  repository,
		logger:      log.NewNop(),
		maxAttempts: make(map[Channel]int),
	}

	for _, opt := range opts {
		opt(publisher)
	}

	return publisher, nil
}

// Publish inserts an outbox record for the given channel payload inside tx.
// A nil tx is refused: the insert must be atomic with the payload write.
// Returns the stored record, which is the existing one when the same intent
// was already published.
func (publisher *Publisher) Publish(ctx context.Context, tx Tx, channel Channel, messageID uuid.UUID, eventType string) (*OutboxRecord, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}

	record, err := NewOutboxRecord(channel, messageID, eventType, publisher.attemptBudget(channel))
	if err != nil {
		return nil, err
	}

	stored, err := publisher.repository.CreateWithTx(ctx, tx, record)
	if err != nil {
		return nil, err
	}

	publisher.logger.Log(ctx, log.LevelDebug, "outbox record published",
		log.String("outbox_id", stored.ID.String()),
		log.String("channel", stored.Channel.String()),
		log.String("event_type", stored.EventType),
	)

	return stored, nil
}

func (publisher *Publisher) attemptBudget(channel Channel) int {
	if attempts, ok := publisher.maxAttempts[channel]; ok {
		return attempts
	}

	return DefaultMaxAttempts
}
