package queue

import (
	"context"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/outbox"
)

// Publisher adapts a Queue to the poller's transport contract.
type Publisher struct {
	queue  Queue
	logger log.Logger
}

var _ outbox.TransportPublisher = (*Publisher)(nil)

// NewPublisher builds a transport publisher over the given queue.
func NewPublisher(q Queue, logger log.Logger) (*Publisher, error) {
	if nilcheck.Interface(q) {
		return nil, ErrQueueRequired
	}

	return &Publisher{
		queue:  q,
		logger: log.OrNop(logger),
	}, nil
}

// PublishRecord envelopes the record's event and sends it to the queue.
func (publisher *Publisher) PublishRecord(ctx context.Context, record *outbox.OutboxRecord) (string, error) {
	event, err := outbox.NewEventMessage(record)
	if err != nil {
		return "", err
	}

	message, err := EncodeEventMessage(event)
	if err != nil {
		return "", err
	}

	transportID, err := publisher.queue.Send(ctx, message)
	if err != nil {
		return "", err
	}

	publisher.logger.Log(ctx, log.LevelDebug, "event sent to queue",
		log.String("message_id", message.ID),
		log.String("channel", event.Channel.String()),
		log.String("transport_id", transportID),
	)

	return transportID, nil
}
