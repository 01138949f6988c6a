// Package service is the write-side API: each send operation stores the
// channel payload and its outbox record in one transaction, so a committed
// notification is guaranteed to be picked up by the poller and an aborted
// one leaves no trace.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/message"
	"github.com/tsu-platform/notify/outbox"
	libpg "github.com/tsu-platform/notify/postgres"
)

// EventTypeNotificationRequested is the event type stamped on records
// produced by this service.
const EventTypeNotificationRequested = "NOTIFICATION_REQUESTED"

const defaultTxTimeout = 30 * time.Second

// Notifier accepts notification requests and hands them to the outbox.
type Notifier struct {
	connection *libpg.Connection
	publisher  *outbox.Publisher
	emails     message.EmailRepository
	sms        message.SmsRepository
	pushes     message.PushRepository
	inApps     message.InAppRepository
	devices    message.DeviceTokenRepository
	logger     log.Logger
}

// Receipt is what the caller gets back: the stored payload id and a snapshot
// of the outbox record that will drive delivery.
type Receipt struct {
	MessageID uuid.UUID
	Outbox    outbox.OutboxRecord
}

// NewNotifier builds the write-side service.
func NewNotifier(
	connection *libpg.Connection,
	publisher *outbox.Publisher,
	emails message.EmailRepository,
	sms message.SmsRepository,
	pushes message.PushRepository,
	inApps message.InAppRepository,
	devices message.DeviceTokenRepository,
	logger log.Logger,
) (*Notifier, error) {
	if connection == nil {
		return nil, libpg.ErrConnectionRequired
	}

	if publisher == nil {
		return nil, outbox.ErrRepositoryRequired
	}

	if nilcheck.Interface(emails) || nilcheck.Interface(sms) || nilcheck.Interface(pushes) || nilcheck.Interface(inApps) {
		return nil, message.ErrMessageRequired
	}

	return &Notifier{
		connection: connection,
		publisher:  publisher,
		emails:     emails,
		sms:        sms,
		pushes:     pushes,
		inApps:     inApps,
		devices:    devices,
		logger:     log.OrNop(logger),
	}, nil
}

// SendEmail stores an email payload and its outbox record atomically.
func (notifier *Notifier) SendEmail(ctx context.Context, userID, to, subject, body string) (*Receipt, error) {
	email, err := message.NewEmailMessage(userID, to, subject, body)
	if err != nil {
		return nil, err
	}

	return notifier.publish(ctx, outbox.ChannelEmail, email.ID, func(tx outbox.Tx) error {
		return notifier.emails.CreateWithTx(ctx, tx, email)
	})
}

// SendSms stores an SMS payload and its outbox record atomically.
func (notifier *Notifier) SendSms(ctx context.Context, userID, phoneNumber, body string) (*Receipt, error) {
	sms, err := message.NewSmsMessage(userID, phoneNumber, body)
	if err != nil {
		return nil, err
	}

	return notifier.publish(ctx, outbox.ChannelSms, sms.ID, func(tx outbox.Tx) error {
		return notifier.sms.CreateWithTx(ctx, tx, sms)
	})
}

// SendPush stores a push payload and its outbox record atomically. Token
// fan-out happens at dispatch time, so devices registered between accept and
// delivery still receive the notification.
func (notifier *Notifier) SendPush(ctx context.Context, userID, title, body string, data map[string]string) (*Receipt, error) {
	push, err := message.NewPushMessage(userID, title, body, data)
	if err != nil {
		return nil, err
	}

	return notifier.publish(ctx, outbox.ChannelPush, push.ID, func(tx outbox.Tx) error {
		return notifier.pushes.CreateWithTx(ctx, tx, push)
	})
}

// SendInApp stores an in-app payload and its outbox record atomically.
func (notifier *Notifier) SendInApp(ctx context.Context, userID, title, body string) (*Receipt, error) {
	inApp, err := message.NewInAppMessage(userID, title, body)
	if err != nil {
		return nil, err
	}

	return notifier.publish(ctx, outbox.ChannelInApp, inApp.ID, func(tx outbox.Tx) error {
		return notifier.inApps.CreateWithTx(ctx, tx, inApp)
	})
}

// RegisterDevice upserts a device push token registration.
func (notifier *Notifier) RegisterDevice(ctx context.Context, userID, deviceID string, platform message.Platform, token string) (*message.DevicePushToken, error) {
	if nilcheck.Interface(notifier.devices) {
		return nil, message.ErrMessageRequired
	}

	registration, err := message.NewDevicePushToken(userID, deviceID, platform, token)
	if err != nil {
		return nil, err
	}

	if err := notifier.devices.Register(ctx, registration); err != nil {
		return nil, err
	}

	notifier.logger.Log(ctx, log.LevelInfo, "device token registered",
		log.String("user_id", userID),
		log.String("device_id", deviceID),
		log.String("platform", string(platform)),
	)

	return registration, nil
}

func (notifier *Notifier) publish(ctx context.Context, channel outbox.Channel, messageID uuid.UUID, storePayload func(outbox.Tx) error) (*Receipt, error) {
	primary, err := notifier.connection.Primary(ctx)
	if err != nil {
		return nil, err
	}

	txCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc

		txCtx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	tx, err := primary.BeginTx(txCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := storePayload(tx); err != nil {
		return nil, err
	}

	record, err := notifier.publisher.Publish(txCtx, tx, channel, messageID, EventTypeNotificationRequested)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	notifier.logger.Log(ctx, log.LevelInfo, "notification accepted",
		log.String("channel", channel.String()),
		log.String("message_id", messageID.String()),
		log.String("outbox_id", record.ID.String()),
	)

	return &Receipt{MessageID: messageID, Outbox: *record}, nil
}
