package message

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Platform identifies the push provider a device token belongs to.
type Platform string

const (
	PlatformFCM  Platform = "FCM"
	PlatformAPNS Platform = "APNS"
)

// IsValid reports whether the platform is known.
func (platform Platform) IsValid() bool {
	return platform == PlatformFCM || platform == PlatformAPNS
}

var (
	// ErrTokenRequired guards registrations with an empty token.
	ErrTokenRequired = errors.New("device token is required")

	// ErrPlatformInvalid guards registrations with an unknown platform.
	ErrPlatformInvalid = errors.New("invalid device platform")
)

// DevicePushToken is one registered device of a user. Revocation is one-way:
// a token flagged by the provider as permanently bad never comes back; the
// device re-registers with a fresh token instead.
type DevicePushToken struct {
	ID         uuid.UUID
	UserID     string
	DeviceID   string
	Platform   Platform
	Token      string
	Active     bool
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewDevicePushToken builds an active token registration.
func NewDevicePushToken(userID, deviceID string, platform Platform, token string) (*DevicePushToken, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	if token == "" {
		return nil, ErrTokenRequired
	}

	if !platform.IsValid() {
		return nil, ErrPlatformInvalid
	}

	now := time.Now().UTC()

	return &DevicePushToken{
		ID:        uuid.New(),
		UserID:    userID,
		DeviceID:  deviceID,
		Platform:  platform,
		Token:     token,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Revoke deactivates the token.
func (token *DevicePushToken) Revoke(now time.Time) {
	if !token.Active {
		return
	}

	token.Active = false
	revokedAt := now.UTC()
	token.RevokedAt = &revokedAt
	token.UpdatedAt = revokedAt
}
