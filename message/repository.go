package message

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/outbox"
)

// EmailRepository persists email payloads.
type EmailRepository interface {
	// CreateWithTx inserts the payload inside the caller's transaction, the
	// same one that carries the outbox insert.
	CreateWithTx(ctx context.Context, tx outbox.Tx, email *EmailMessage) error

	// GetByID loads a payload or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*EmailMessage, error)

	// UpdateDeliveryState persists the payload's attempt bookkeeping.
	UpdateDeliveryState(ctx context.Context, email *EmailMessage) error
}

// SmsRepository persists SMS payloads.
type SmsRepository interface {
	CreateWithTx(ctx context.Context, tx outbox.Tx, sms *SmsMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*SmsMessage, error)
	UpdateDeliveryState(ctx context.Context, sms *SmsMessage) error
}

// PushRepository persists push payloads.
type PushRepository interface {
	CreateWithTx(ctx context.Context, tx outbox.Tx, push *PushMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*PushMessage, error)
	UpdateDeliveryState(ctx context.Context, push *PushMessage) error
}

// InAppRepository persists in-app payloads.
type InAppRepository interface {
	CreateWithTx(ctx context.Context, tx outbox.Tx, inApp *InAppMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*InAppMessage, error)
	UpdateDeliveryState(ctx context.Context, inApp *InAppMessage) error

	// MarkRead stamps when the user opened the notification.
	MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error

	// ListUnread returns the user's unread notifications, newest first.
	ListUnread(ctx context.Context, userID string, limit int) ([]*InAppMessage, error)
}

// DeviceTokenRepository persists device push tokens.
type DeviceTokenRepository interface {
	// Register upserts the registration keyed by (device, platform). A
	// re-registration replaces the token, reassigns the device to the
	// registering user, and reactivates the row.
	Register(ctx context.Context, token *DevicePushToken) error

	// ActiveByUser returns the user's active tokens.
	ActiveByUser(ctx context.Context, userID string) ([]*DevicePushToken, error)

	// MarkUsed stamps a successful send through the token.
	MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error

	// Revoke deactivates a token the provider reported as permanently bad.
	Revoke(ctx context.Context, id uuid.UUID, revokedAt time.Time) error
}
