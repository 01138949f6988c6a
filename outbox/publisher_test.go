//go:build unit

package outbox

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewPublisherRequiresRepository(t *testing.T) {
	_, err := NewPublisher(nil)
	require.ErrorIs(t, err, ErrRepositoryRequired)

	var typedNil *fakeRepository

	_, err = NewPublisher(typedNil)
	require.ErrorIs(t, err, ErrRepositoryRequired)
}

func TestPublishRequiresTransaction(t *testing.T) {
	publisher, err := NewPublisher(newFakeRepository())
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), nil, ChannelEmail, uuid.New(), "NOTIFICATION_REQUESTED")
	require.ErrorIs(t, err, ErrTransactionRequired)
}

func TestPublishCreatesPendingRecord(t *testing.T) {
	repo := newFakeRepository()
	publisher, err := NewPublisher(repo, WithMaxAttempts(ChannelSms, 5))
	require.NoError(t, err)

	messageID := uuid.New()

	record, err := publisher.Publish(context.Background(), &sql.Tx{}, ChannelSms, messageID, "NOTIFICATION_REQUESTED")
	require.NoError(t, err)

	require.Equal(t, StatusPending, record.Status)
	require.Equal(t, ChannelSms, record.Channel)
	require.Equal(t, messageID, record.MessageID)
	require.Equal(t, 5, record.MaxAttempts)
	require.Zero(t, record.AttemptCount)
}

func TestPublishDefaultAttemptBudget(t *testing.T) {
	publisher, err := NewPublisher(newFakeRepository())
	require.NoError(t, err)

	record, err := publisher.Publish(context.Background(), &sql.Tx{}, ChannelPush, uuid.New(), "NOTIFICATION_REQUESTED")
	require.NoError(t, err)
	require.Equal(t, DefaultMaxAttempts, record.MaxAttempts)
}

func TestPublishSameIntentReturnsExistingRecord(t *testing.T) {
	publisher, err := NewPublisher(newFakeRepository())
	require.NoError(t, err)

	messageID := uuid.New()

	first, err := publisher.Publish(context.Background(), &sql.Tx{}, ChannelEmail, messageID, "NOTIFICATION_REQUESTED")
	require.NoError(t, err)

	second, err := publisher.Publish(context.Background(), &sql.Tx{}, ChannelEmail, messageID, "NOTIFICATION_REQUESTED")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
}

func TestPublishValidatesInput(t *testing.T) {
	publisher, err := NewPublisher(newFakeRepository())
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), &sql.Tx{}, Channel("BOGUS"), uuid.New(), "evt")
	require.ErrorIs(t, err, ErrChannelInvalid)

	_, err = publisher.Publish(context.Background(), &sql.Tx{}, ChannelEmail, uuid.Nil, "evt")
	require.ErrorIs(t, err, ErrMessageIDRequired)

	_, err = publisher.Publish(context.Background(), &sql.Tx{}, ChannelEmail, uuid.New(), "")
	require.ErrorIs(t, err, ErrEventTypeRequired)
}
