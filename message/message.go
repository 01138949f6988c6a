// Package message holds the channel payload models. Payload delivery state
// records the outcome of the most recent attempt; retry scheduling lives on
// the outbox record referencing the payload.
package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested payload does not exist.
	ErrNotFound = errors.New("message not found")

	// ErrMessageRequired indicates a nil payload was passed to an operation.
	ErrMessageRequired = errors.New("message is required")

	// ErrInvalidTransition indicates a delivery-state transition the machine forbids.
	ErrInvalidTransition = errors.New("invalid message status transition")

	// ErrUserIDRequired guards payloads built without a recipient.
	ErrUserIDRequired = errors.New("user id is required")
)

// Status is the payload delivery state.
type Status string

const (
	// StatusQueued marks a payload written but not yet attempted.
	StatusQueued Status = "queued"

	// StatusSending marks an attempt in flight.
	StatusSending Status = "sending"

	// StatusSent marks the last attempt as accepted by the provider. Terminal.
	StatusSent Status = "sent"

	// StatusFailed marks the last attempt as failed. A later retry moves the
	// payload back to sending.
	StatusFailed Status = "failed"
)

// CanTransitionTo reports whether the delivery-state machine permits the move.
func (status Status) CanTransitionTo(target Status) bool {
	switch status {
	case StatusQueued:
		return target == StatusSending
	case StatusSending:
		// sending -> sending re-enters an attempt when a broker redelivery
		// arrives after a crash between persisting the attempt and its outcome.
		return target == StatusSending || target == StatusSent || target == StatusFailed
	case StatusFailed:
		return target == StatusSending
	default:
		return false
	}
}

// DeliveryState is the per-payload attempt bookkeeping shared by every
// channel payload.
type DeliveryState struct {
	Status        Status
	AttemptCount  int
	LastError     string
	LastAttemptAt *time.Time
	SentAt        *time.Time
	ProviderID    string
}

// NewDeliveryState returns the initial queued state.
func NewDeliveryState() DeliveryState {
	return DeliveryState{Status: StatusQueued}
}

// MarkSending records the start of an attempt.
func (state *DeliveryState) MarkSending(now time.Time) error {
	if !state.Status.CanTransitionTo(StatusSending) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state.Status, StatusSending)
	}

	state.Status = StatusSending
	state.AttemptCount++
	attemptedAt := now.UTC()
	state.LastAttemptAt = &attemptedAt

	return nil
}

// MarkSent records a successful attempt.
func (state *DeliveryState) MarkSent(now time.Time, providerID string) error {
	if !state.Status.CanTransitionTo(StatusSent) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state.Status, StatusSent)
	}

	state.Status = StatusSent
	sentAt := now.UTC()
	state.SentAt = &sentAt
	state.ProviderID = providerID
	state.LastError = ""

	return nil
}

// MarkFailed records a failed attempt.
func (state *DeliveryState) MarkFailed(lastError string) error {
	if !state.Status.CanTransitionTo(StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state.Status, StatusFailed)
	}

	state.Status = StatusFailed
	state.LastError = lastError

	return nil
}

// EmailMessage is the email channel payload.
type EmailMessage struct {
	ID        uuid.UUID
	UserID    string
	To        string
	Cc        string
	Subject   string
	Body      string
	State     DeliveryState
	CreatedAt time.Time
}

// NewEmailMessage builds a queued email payload.
func NewEmailMessage(userID, to, subject, body string) (*EmailMessage, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	if to == "" {
		return nil, errors.New("email recipient is required")
	}

	return &EmailMessage{
		ID:        uuid.New(),
		UserID:    userID,
		To:        to,
		Subject:   subject,
		Body:      body,
		State:     NewDeliveryState(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SmsMessage is the SMS channel payload.
type SmsMessage struct {
	ID          uuid.UUID
	UserID      string
	PhoneNumber string
	Body        string
	State       DeliveryState
	CreatedAt   time.Time
}

// NewSmsMessage builds a queued SMS payload.
func NewSmsMessage(userID, phoneNumber, body string) (*SmsMessage, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	if phoneNumber == "" {
		return nil, errors.New("phone number is required")
	}

	return &SmsMessage{
		ID:          uuid.New(),
		UserID:      userID,
		PhoneNumber: phoneNumber,
		Body:        body,
		State:       NewDeliveryState(),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// PushMessage is the push channel payload. Delivery fans out to every active
// device token of the user.
type PushMessage struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	Body      string
	Data      map[string]string
	State     DeliveryState
	CreatedAt time.Time
}

// NewPushMessage builds a queued push payload.
func NewPushMessage(userID, title, body string, data map[string]string) (*PushMessage, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	return &PushMessage{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		Data:      data,
		State:     NewDeliveryState(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// InAppMessage is the in-app channel payload. ReadAt tracks when the user
// opened the notification; a payload delivered while the user is offline
// still counts as sent and shows up on their next session.
type InAppMessage struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	Body      string
	ReadAt    *time.Time
	State     DeliveryState
	CreatedAt time.Time
}

// NewInAppMessage builds a queued in-app payload.
func NewInAppMessage(userID, title, body string) (*InAppMessage, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	return &InAppMessage{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		State:     NewDeliveryState(),
		CreatedAt: time.Now().UTC(),
	}, nil
}
