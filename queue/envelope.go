package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tsu-platform/notify/outbox"
)

// Envelope is the wire format of a queue message. MessageID equals the
// outbox record ID, which is what consumers key their idempotency checks on.
type Envelope struct {
	MessageID   string          `json:"messageId"`
	MessageType string          `json:"messageType"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Envelope header attribute names.
const (
	AttributeMessageType = "message-type"
	AttributeChannel     = "channel"
)

// EncodeEventMessage wraps an outbox event in an envelope and returns the
// outbound queue message.
func EncodeEventMessage(event *outbox.EventMessage) (*Message, error) {
	if event == nil {
		return nil, ErrMessageRequired
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event payload: %w", err)
	}

	envelope := Envelope{
		MessageID:   event.EventID.String(),
		MessageType: event.EventType,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	return &Message{
		ID:   envelope.MessageID,
		Body: body,
		Attributes: map[string]string{
			AttributeMessageType: event.EventType,
			AttributeChannel:     event.Channel.String(),
		},
	}, nil
}

// DecodeEventMessage unwraps a received body into the outbox event. Decode
// failures are ErrMalformedMessage so consumers dead-letter instead of
// requeueing a body that can never parse.
func DecodeEventMessage(body []byte) (*outbox.EventMessage, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedMessage)
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err.Error())
	}

	var event outbox.EventMessage
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err.Error())
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err.Error())
	}

	return &event, nil
}
