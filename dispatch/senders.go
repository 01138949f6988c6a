package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/message"
)

// Logging senders stand in for real provider integrations in development
// and in environments without provider credentials. They accept every send
// and log what a real provider would have received.

// LoggingEmailSender logs the email and reports success.
type LoggingEmailSender struct {
	Logger log.Logger
}

var _ EmailSender = (*LoggingEmailSender)(nil)

// SendEmail logs the payload and returns a generated provider id.
func (sender *LoggingEmailSender) SendEmail(ctx context.Context, email *message.EmailMessage) SendResult {
	log.OrNop(sender.Logger).Log(ctx, log.LevelInfo, "email send (logging provider)",
		log.String("message_id", email.ID.String()),
		log.String("to", email.To),
		log.String("subject", email.Subject),
	)

	return Succeed("logging-email", uuid.NewString())
}

// LoggingSmsSender logs the SMS and reports success.
type LoggingSmsSender struct {
	Logger log.Logger
}

var _ SmsSender = (*LoggingSmsSender)(nil)

// SendSms logs the payload and returns a generated provider id.
func (sender *LoggingSmsSender) SendSms(ctx context.Context, sms *message.SmsMessage) SendResult {
	log.OrNop(sender.Logger).Log(ctx, log.LevelInfo, "sms send (logging provider)",
		log.String("message_id", sms.ID.String()),
		log.String("phone_number", sms.PhoneNumber),
	)

	return Succeed("logging-sms", uuid.NewString())
}

// LoggingPushSender logs the push and reports success per token.
type LoggingPushSender struct {
	Logger log.Logger
}

var _ PushSender = (*LoggingPushSender)(nil)

// SendPush logs the payload and returns a generated provider id.
func (sender *LoggingPushSender) SendPush(ctx context.Context, push *message.PushMessage, token *message.DevicePushToken) SendResult {
	log.OrNop(sender.Logger).Log(ctx, log.LevelInfo, "push send (logging provider)",
		log.String("message_id", push.ID.String()),
		log.String("device_id", token.DeviceID),
		log.String("platform", string(token.Platform)),
	)

	return Succeed("logging-push", uuid.NewString())
}

// Presence reports whether a user has a live in-app connection.
type Presence interface {
	IsConnected(ctx context.Context, userID string) bool
}

// LoggingInAppSender pushes to a live connection when Presence says the user
// is online; otherwise it reports CodeUserNotConnected, which the dispatcher
// treats as delivered-on-next-session.
type LoggingInAppSender struct {
	Logger   log.Logger
	Presence Presence
}

var _ InAppSender = (*LoggingInAppSender)(nil)

// SendInApp logs the payload when the user is connected.
func (sender *LoggingInAppSender) SendInApp(ctx context.Context, inApp *message.InAppMessage) SendResult {
	if sender.Presence == nil || !sender.Presence.IsConnected(ctx, inApp.UserID) {
		return Fail("logging-inapp", CodeUserNotConnected, "user has no live connection")
	}

	log.OrNop(sender.Logger).Log(ctx, log.LevelInfo, "in-app send (logging provider)",
		log.String("message_id", inApp.ID.String()),
		log.String("user_id", inApp.UserID),
	)

	return Succeed("logging-inapp", uuid.NewString())
}
