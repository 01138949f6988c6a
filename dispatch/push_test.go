//go:build unit

package dispatch

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tsu-platform/notify/message"
	"github.com/tsu-platform/notify/outbox"
)

func queuedPush(t *testing.T) *message.PushMessage {
	t.Helper()

	push, err := message.NewPushMessage("user-1", "Heads up", "Something happened", nil)
	require.NoError(t, err)

	return push
}

func deviceToken(t *testing.T, deviceID string) *message.DevicePushToken {
	t.Helper()

	token, err := message.NewDevicePushToken("user-1", deviceID, message.PlatformFCM, "tok-"+deviceID)
	require.NoError(t, err)

	return token
}

func newPushDispatcher(t *testing.T, outboxRepo *fakeOutboxRepo, pushes *fakePushRepo, devices *fakeDeviceRepo, sender *scriptedPushSender) *PushDispatcher {
	t.Helper()

	dispatcher, err := NewPushDispatcher(outboxRepo, pushes, devices, sender, nil)
	require.NoError(t, err)

	return dispatcher
}

func TestPushDispatchOneAcceptedTokenIsSuccess(t *testing.T) {
	push := queuedPush(t)
	record, event := processingRecordFor(t, outbox.ChannelPush, push.ID)

	good := deviceToken(t, "phone")
	bad := deviceToken(t, "tablet")
	devices := newFakeDeviceRepo(good, bad)

	sender := &scriptedPushSender{results: map[uuid.UUID]SendResult{
		good.ID: Succeed("push", "fcm-1"),
		bad.ID:  Fail("push", "PROVIDER_5XX", "fcm unavailable"),
	}}

	dispatcher := newPushDispatcher(t, newFakeOutboxRepo(record), newFakePushRepo(push), devices, sender)

	require.NoError(t, dispatcher.Dispatch(context.Background(), event))

	require.Equal(t, 2, sender.calls)
	require.Equal(t, message.StatusSent, push.State.Status)
	require.Equal(t, "fcm-1", push.State.ProviderID)
	require.Equal(t, outbox.StatusProcessed, record.Status)
	require.Equal(t, []uuid.UUID{good.ID}, devices.used)
	require.Empty(t, devices.revoked)
}

func TestPushDispatchPermanentTokenErrorRevokes(t *testing.T) {
	push := queuedPush(t)
	record, event := processingRecordFor(t, outbox.ChannelPush, push.ID)

	stale := deviceToken(t, "old-phone")
	live := deviceToken(t, "new-phone")
	devices := newFakeDeviceRepo(stale, live)

	sender := &scriptedPushSender{results: map[uuid.UUID]SendResult{
		stale.ID: FailPermanent("push", CodeInvalidToken, "token unregistered"),
		live.ID:  Succeed("push", "fcm-2"),
	}}

	dispatcher := newPushDispatcher(t, newFakeOutboxRepo(record), newFakePushRepo(push), devices, sender)

	require.NoError(t, dispatcher.Dispatch(context.Background(), event))

	require.Equal(t, message.StatusSent, push.State.Status)
	require.Equal(t, outbox.StatusProcessed, record.Status)
	require.Equal(t, []uuid.UUID{stale.ID}, devices.revoked)
	require.False(t, stale.Active)
}

func TestPushDispatchAllRetryableFailuresSchedulesRetry(t *testing.T) {
	push := queuedPush(t)
	record, event := processingRecordFor(t, outbox.ChannelPush, push.ID)

	token := deviceToken(t, "phone")
	devices := newFakeDeviceRepo(token)

	sender := &scriptedPushSender{results: map[uuid.UUID]SendResult{
		token.ID: Fail("push", "PROVIDER_5XX", "fcm unavailable"),
	}}

	outboxRepo := newFakeOutboxRepo(record)
	dispatcher := newPushDispatcher(t, outboxRepo, newFakePushRepo(push), devices, sender)

	require.NoError(t, dispatcher.Dispatch(context.Background(), event))

	require.Equal(t, message.StatusFailed, push.State.Status)
	require.Equal(t, outbox.StatusFailed, record.Status)
	require.NotNil(t, record.NextAttemptAt)
	require.True(t, token.Active)
}

func TestPushDispatchCancelledBeforeFirstSendReportsCodedFailure(t *testing.T) {
	push := queuedPush(t)
	record, event := processingRecordFor(t, outbox.ChannelPush, push.ID)

	token := deviceToken(t, "phone")
	devices := newFakeDeviceRepo(token)
	sender := &scriptedPushSender{}

	outboxRepo := newFakeOutboxRepo(record)
	dispatcher := newPushDispatcher(t, outboxRepo, newFakePushRepo(push), devices, sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, dispatcher.Dispatch(ctx, event))

	require.Zero(t, sender.calls)
	require.Equal(t, message.StatusFailed, push.State.Status)
	require.Contains(t, push.State.LastError, CodeCancelled)
	require.Equal(t, outbox.StatusFailed, record.Status)
	require.Contains(t, record.LastError, CodeCancelled)
	require.NotNil(t, record.NextAttemptAt)
	require.True(t, token.Active)
}

// When every token fails permanently the aggregate is permanent too: all
// tokens are revoked, so a retry would find nothing to send to.
func TestPushDispatchAllPermanentFailuresExhaustsRecord(t *testing.T) {
	push := queuedPush(t)
	record, event := processingRecordFor(t, outbox.ChannelPush, push.ID)

	first := deviceToken(t, "phone")
	second := deviceToken(t, "tablet")
	devices := newFakeDeviceRepo(first, second)

	sender := &scriptedPushSender{results: map[uuid.UUID]SendResult{
		first.ID:  FailPermanent("push", CodeInvalidToken, "token unregistered"),
		second.ID: FailPermanent("push", CodeInvalidToken, "token unregistered"),
	}}

	dispatcher := newPushDispatcher(t, newFakeOutboxRepo(record), newFakePushRepo(push), devices, sender)

	require.NoError(t, dispatcher.Dispatch(context.Background(), event))

	require.Equal(t, message.StatusFailed, push.State.Status)
	require.Equal(t, outbox.StatusFailed, record.Status)
	require.Nil(t, record.NextAttemptAt)
	require.True(t, record.IsExhausted())
	require.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, devices.revoked)
}

func TestPushDispatchNoActiveTokensIsTerminal(t *testing.T) {
	push := queuedPush(t)
	record, event := processingRecordFor(t, outbox.ChannelPush, push.ID)

	revoked := deviceToken(t, "phone")
	revoked.Active = false
	devices := newFakeDeviceRepo(revoked)

	sender := &scriptedPushSender{}

	dispatcher := newPushDispatcher(t, newFakeOutboxRepo(record), newFakePushRepo(push), devices, sender)

	require.NoError(t, dispatcher.Dispatch(context.Background(), event))

	require.Zero(t, sender.calls)
	require.Equal(t, message.StatusFailed, push.State.Status)
	require.Contains(t, push.State.LastError, CodeNoActiveTokens)
	require.Equal(t, outbox.StatusFailed, record.Status)
	require.Nil(t, record.NextAttemptAt)
	require.True(t, record.IsExhausted())
}

func TestPushDispatchMissingPayloadInvalidatesRecord(t *testing.T) {
	record, event := processingRecordFor(t, outbox.ChannelPush, uuid.New())

	outboxRepo := newFakeOutboxRepo(record)
	dispatcher := newPushDispatcher(t, outboxRepo, newFakePushRepo(), newFakeDeviceRepo(), &scriptedPushSender{})

	require.NoError(t, dispatcher.Dispatch(context.Background(), event))

	require.Equal(t, outbox.StatusInvalid, record.Status)
	require.Contains(t, outboxRepo.invalidSeen[record.ID], "payload not found")
}
