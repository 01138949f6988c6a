//go:build unit

package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusQueued, StatusSending, true},
		{StatusQueued, StatusSent, false},
		{StatusQueued, StatusFailed, false},
		{StatusSending, StatusSending, true},
		{StatusSending, StatusSent, true},
		{StatusSending, StatusFailed, true},
		{StatusSending, StatusQueued, false},
		{StatusFailed, StatusSending, true},
		{StatusFailed, StatusSent, false},
		{StatusSent, StatusSending, false},
		{StatusSent, StatusFailed, false},
	}

	for _, testCase := range cases {
		t.Run(string(testCase.from)+"_to_"+string(testCase.to), func(t *testing.T) {
			require.Equal(t, testCase.allowed, testCase.from.CanTransitionTo(testCase.to))
		})
	}
}

func TestDeliveryStateLifecycle(t *testing.T) {
	state := NewDeliveryState()
	require.Equal(t, StatusQueued, state.Status)
	require.Zero(t, state.AttemptCount)

	now := time.Now().UTC()

	require.NoError(t, state.MarkSending(now))
	require.Equal(t, StatusSending, state.Status)
	require.Equal(t, 1, state.AttemptCount)
	require.NotNil(t, state.LastAttemptAt)

	require.NoError(t, state.MarkFailed("provider unavailable"))
	require.Equal(t, StatusFailed, state.Status)
	require.Equal(t, "provider unavailable", state.LastError)

	// A retry moves failed back to sending and bumps the attempt count.
	require.NoError(t, state.MarkSending(now.Add(time.Minute)))
	require.Equal(t, 2, state.AttemptCount)

	require.NoError(t, state.MarkSent(now.Add(2*time.Minute), "provider-1"))
	require.Equal(t, StatusSent, state.Status)
	require.Equal(t, "provider-1", state.ProviderID)
	require.NotNil(t, state.SentAt)
	require.Empty(t, state.LastError)

	// Sent is terminal.
	require.ErrorIs(t, state.MarkSending(now), ErrInvalidTransition)
	require.ErrorIs(t, state.MarkFailed("late failure"), ErrInvalidTransition)
}

func TestDeliveryStateReentersSendingAfterInterruptedAttempt(t *testing.T) {
	state := NewDeliveryState()
	now := time.Now().UTC()

	require.NoError(t, state.MarkSending(now))

	// A crash between persisting the attempt and its outcome leaves the
	// payload in sending; a redelivered event starts a fresh attempt.
	require.NoError(t, state.MarkSending(now.Add(time.Minute)))
	require.Equal(t, StatusSending, state.Status)
	require.Equal(t, 2, state.AttemptCount)

	require.NoError(t, state.MarkSent(now.Add(2*time.Minute), "provider-1"))
	require.Equal(t, StatusSent, state.Status)
}

func TestDeliveryStateRejectsSentWithoutAttempt(t *testing.T) {
	state := NewDeliveryState()

	require.ErrorIs(t, state.MarkSent(time.Now().UTC(), "provider-1"), ErrInvalidTransition)
	require.ErrorIs(t, state.MarkFailed("no attempt yet"), ErrInvalidTransition)
}

func TestPayloadConstructorsValidate(t *testing.T) {
	_, err := NewEmailMessage("", "user@example.com", "subject", "body")
	require.ErrorIs(t, err, ErrUserIDRequired)

	_, err = NewEmailMessage("user-1", "", "subject", "body")
	require.Error(t, err)

	_, err = NewSmsMessage("user-1", "", "body")
	require.Error(t, err)

	_, err = NewPushMessage("", "title", "body", nil)
	require.ErrorIs(t, err, ErrUserIDRequired)

	_, err = NewInAppMessage("", "title", "body")
	require.ErrorIs(t, err, ErrUserIDRequired)

	email, err := NewEmailMessage("user-1", "user@example.com", "subject", "body")
	require.NoError(t, err)
	require.NotZero(t, email.ID)
	require.Equal(t, StatusQueued, email.State.Status)
}
