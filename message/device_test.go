//go:build unit

package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDevicePushTokenValidation(t *testing.T) {
	_, err := NewDevicePushToken("", "device-1", PlatformFCM, "tok")
	require.ErrorIs(t, err, ErrUserIDRequired)

	_, err = NewDevicePushToken("user-1", "device-1", PlatformFCM, "")
	require.ErrorIs(t, err, ErrTokenRequired)

	_, err = NewDevicePushToken("user-1", "device-1", Platform("PIGEON"), "tok")
	require.ErrorIs(t, err, ErrPlatformInvalid)

	token, err := NewDevicePushToken("user-1", "device-1", PlatformAPNS, "tok")
	require.NoError(t, err)
	require.True(t, token.Active)
	require.Nil(t, token.RevokedAt)
}

func TestDevicePushTokenRevoke(t *testing.T) {
	token, err := NewDevicePushToken("user-1", "device-1", PlatformFCM, "tok")
	require.NoError(t, err)

	revokedAt := time.Now().UTC()
	token.Revoke(revokedAt)

	require.False(t, token.Active)
	require.NotNil(t, token.RevokedAt)
	require.Equal(t, revokedAt, *token.RevokedAt)

	// Revoking twice keeps the original timestamp.
	token.Revoke(revokedAt.Add(time.Hour))
	require.Equal(t, revokedAt, *token.RevokedAt)
}
