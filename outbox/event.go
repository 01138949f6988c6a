package outbox

import (
	"github.com/google/uuid"
)

// EventMessage is the envelope payload published to the queue for a claimed
// outbox record. It carries references only; dispatchers load the channel
// payload from storage by MessageID.
type EventMessage struct {
	EventID      uuid.UUID `json:"eventId"`
	Channel      Channel   `json:"channel"`
	MessageID    uuid.UUID `json:"messageId"`
	EventType    string    `json:"eventType"`
	PartitionKey string    `json:"partitionKey"`
}

// NewEventMessage builds the queue envelope payload for a record.
func NewEventMessage(record *OutboxRecord) (*EventMessage, error) {
	if record == nil {
		return nil, ErrRecordRequired
	}

	return &EventMessage{
		EventID:      record.ID,
		Channel:      record.Channel,
		MessageID:    record.MessageID,
		EventType:    record.EventType,
		PartitionKey: record.PartitionKey,
	}, nil
}

// Validate checks the envelope payload after decoding from the wire.
func (message *EventMessage) Validate() error {
	if message.EventID == uuid.Nil {
		return ErrRecordRequired
	}

	if !message.Channel.IsValid() {
		return ErrChannelInvalid
	}

	if message.MessageID == uuid.Nil {
		return ErrMessageIDRequired
	}

	if message.EventType == "" {
		return ErrEventTypeRequired
	}

	return nil
}
