//go:build unit

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tsu-platform/notify/message"
	"github.com/tsu-platform/notify/outbox"
)

type fakeOutboxRepo struct {
	records map[uuid.UUID]*outbox.OutboxRecord

	failedSeen  []*outbox.OutboxRecord
	invalidSeen map[uuid.UUID]string
}

func newFakeOutboxRepo(records ...*outbox.OutboxRecord) *fakeOutboxRepo {
	repo := &fakeOutboxRepo{
		records:     map[uuid.UUID]*outbox.OutboxRecord{},
		invalidSeen: map[uuid.UUID]string{},
	}

	for _, record := range records {
		repo.records[record.ID] = record
	}

	return repo
}

func (repo *fakeOutboxRepo) CreateWithTx(_ context.Context, _ outbox.Tx, record *outbox.OutboxRecord) (*outbox.OutboxRecord, error) {
	repo.records[record.ID] = record

	return record, nil
}

func (repo *fakeOutboxRepo) GetByID(_ context.Context, id uuid.UUID) (*outbox.OutboxRecord, error) {
	record, ok := repo.records[id]
	if !ok {
		return nil, outbox.ErrNotFound
	}

	return record, nil
}

func (repo *fakeOutboxRepo) ClaimReady(context.Context, int) ([]*outbox.OutboxRecord, error) {
	return nil, nil
}

func (repo *fakeOutboxRepo) MarkProcessed(_ context.Context, id uuid.UUID, processedAt time.Time) error {
	record, ok := repo.records[id]
	if !ok {
		return outbox.ErrNotFound
	}

	record.Status = outbox.StatusProcessed
	record.ProcessedAt = &processedAt

	return nil
}

func (repo *fakeOutboxRepo) MarkFailed(_ context.Context, record *outbox.OutboxRecord) error {
	repo.failedSeen = append(repo.failedSeen, record)
	repo.records[record.ID] = record

	return nil
}

func (repo *fakeOutboxRepo) MarkInvalid(_ context.Context, id uuid.UUID, lastError string) error {
	record, ok := repo.records[id]
	if !ok {
		return outbox.ErrNotFound
	}

	record.Status = outbox.StatusInvalid
	record.LastError = lastError
	repo.invalidSeen[id] = lastError

	return nil
}

func (repo *fakeOutboxRepo) ResetStuck(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

func (repo *fakeOutboxRepo) DeleteProcessedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeEmailRepo struct {
	emails  map[uuid.UUID]*message.EmailMessage
	updates int
}

func newFakeEmailRepo(emails ...*message.EmailMessage) *fakeEmailRepo {
	repo := &fakeEmailRepo{emails: map[uuid.UUID]*message.EmailMessage{}}
	for _, email := range emails {
		repo.emails[email.ID] = email
	}

	return repo
}

func (repo *fakeEmailRepo) CreateWithTx(_ context.Context, _ outbox.Tx, email *message.EmailMessage) error {
	repo.emails[email.ID] = email

	return nil
}

func (repo *fakeEmailRepo) GetByID(_ context.Context, id uuid.UUID) (*message.EmailMessage, error) {
	email, ok := repo.emails[id]
	if !ok {
		return nil, message.ErrNotFound
	}

	return email, nil
}

func (repo *fakeEmailRepo) UpdateDeliveryState(_ context.Context, email *message.EmailMessage) error {
	repo.updates++
	repo.emails[email.ID] = email

	return nil
}

type fakeSmsRepo struct {
	sms *message.SmsMessage
}

func (repo *fakeSmsRepo) CreateWithTx(_ context.Context, _ outbox.Tx, sms *message.SmsMessage) error {
	repo.sms = sms

	return nil
}

func (repo *fakeSmsRepo) GetByID(_ context.Context, id uuid.UUID) (*message.SmsMessage, error) {
	if repo.sms == nil || repo.sms.ID != id {
		return nil, message.ErrNotFound
	}

	return repo.sms, nil
}

func (repo *fakeSmsRepo) UpdateDeliveryState(_ context.Context, sms *message.SmsMessage) error {
	repo.sms = sms

	return nil
}

type fakePushRepo struct {
	pushes map[uuid.UUID]*message.PushMessage
}

func newFakePushRepo(pushes ...*message.PushMessage) *fakePushRepo {
	repo := &fakePushRepo{pushes: map[uuid.UUID]*message.PushMessage{}}
	for _, push := range pushes {
		repo.pushes[push.ID] = push
	}

	return repo
}

func (repo *fakePushRepo) CreateWithTx(_ context.Context, _ outbox.Tx, push *message.PushMessage) error {
	repo.pushes[push.ID] = push

	return nil
}

func (repo *fakePushRepo) GetByID(_ context.Context, id uuid.UUID) (*message.PushMessage, error) {
	push, ok := repo.pushes[id]
	if !ok {
		return nil, message.ErrNotFound
	}

	return push, nil
}

func (repo *fakePushRepo) UpdateDeliveryState(_ context.Context, push *message.PushMessage) error {
	repo.pushes[push.ID] = push

	return nil
}

type fakeInAppRepo struct {
	inApps map[uuid.UUID]*message.InAppMessage
}

func newFakeInAppRepo(inApps ...*message.InAppMessage) *fakeInAppRepo {
	repo := &fakeInAppRepo{inApps: map[uuid.UUID]*message.InAppMessage{}}
	for _, inApp := range inApps {
		repo.inApps[inApp.ID] = inApp
	}

	return repo
}

func (repo *fakeInAppRepo) CreateWithTx(_ context.Context, _ outbox.Tx, inApp *message.InAppMessage) error {
	repo.inApps[inApp.ID] = inApp

	return nil
}

func (repo *fakeInAppRepo) GetByID(_ context.Context, id uuid.UUID) (*message.InAppMessage, error) {
	inApp, ok := repo.inApps[id]
	if !ok {
		return nil, message.ErrNotFound
	}

	return inApp, nil
}

func (repo *fakeInAppRepo) UpdateDeliveryState(_ context.Context, inApp *message.InAppMessage) error {
	repo.inApps[inApp.ID] = inApp

	return nil
}

func (repo *fakeInAppRepo) MarkRead(_ context.Context, id uuid.UUID, readAt time.Time) error {
	inApp, ok := repo.inApps[id]
	if !ok {
		return message.ErrNotFound
	}

	inApp.ReadAt = &readAt

	return nil
}

func (repo *fakeInAppRepo) ListUnread(context.Context, string, int) ([]*message.InAppMessage, error) {
	return nil, nil
}

type fakeDeviceRepo struct {
	tokens  map[string][]*message.DevicePushToken
	used    []uuid.UUID
	revoked []uuid.UUID
}

func newFakeDeviceRepo(tokens ...*message.DevicePushToken) *fakeDeviceRepo {
	repo := &fakeDeviceRepo{tokens: map[string][]*message.DevicePushToken{}}
	for _, token := range tokens {
		repo.tokens[token.UserID] = append(repo.tokens[token.UserID], token)
	}

	return repo
}

func (repo *fakeDeviceRepo) Register(_ context.Context, token *message.DevicePushToken) error {
	repo.tokens[token.UserID] = append(repo.tokens[token.UserID], token)

	return nil
}

func (repo *fakeDeviceRepo) ActiveByUser(_ context.Context, userID string) ([]*message.DevicePushToken, error) {
	active := make([]*message.DevicePushToken, 0)

	for _, token := range repo.tokens[userID] {
		if token.Active {
			active = append(active, token)
		}
	}

	return active, nil
}

func (repo *fakeDeviceRepo) MarkUsed(_ context.Context, id uuid.UUID, usedAt time.Time) error {
	repo.used = append(repo.used, id)

	return nil
}

func (repo *fakeDeviceRepo) Revoke(_ context.Context, id uuid.UUID, revokedAt time.Time) error {
	repo.revoked = append(repo.revoked, id)

	for _, tokens := range repo.tokens {
		for _, token := range tokens {
			if token.ID == id {
				token.Revoke(revokedAt)
			}
		}
	}

	return nil
}

type scriptedEmailSender struct {
	result SendResult
	calls  int
}

func (sender *scriptedEmailSender) SendEmail(context.Context, *message.EmailMessage) SendResult {
	sender.calls++

	return sender.result
}

type scriptedSmsSender struct {
	result SendResult
	calls  int
}

func (sender *scriptedSmsSender) SendSms(context.Context, *message.SmsMessage) SendResult {
	sender.calls++

	return sender.result
}

// scriptedPushSender returns a per-token result, keyed by token ID.
type scriptedPushSender struct {
	results map[uuid.UUID]SendResult
	calls   int
}

func (sender *scriptedPushSender) SendPush(_ context.Context, _ *message.PushMessage, token *message.DevicePushToken) SendResult {
	sender.calls++

	result, ok := sender.results[token.ID]
	if !ok {
		return Succeed("push", "push-"+token.ID.String())
	}

	return result
}

type scriptedInAppSender struct {
	result SendResult
	calls  int
}

func (sender *scriptedInAppSender) SendInApp(context.Context, *message.InAppMessage) SendResult {
	sender.calls++

	return sender.result
}

// processingRecordFor builds a claimed outbox record and the matching queue
// event for a payload, mirroring what the poller hands to the consumer.
func processingRecordFor(t *testing.T, channel outbox.Channel, messageID uuid.UUID) (*outbox.OutboxRecord, *outbox.EventMessage) {
	t.Helper()

	record, err := outbox.NewOutboxRecord(channel, messageID, "NOTIFICATION_REQUESTED", 3)
	require.NoError(t, err)

	record.Status = outbox.StatusProcessing
	startedAt := time.Now().UTC()
	record.ProcessingStartedAt = &startedAt

	event, err := outbox.NewEventMessage(record)
	require.NoError(t, err)

	return record, event
}
