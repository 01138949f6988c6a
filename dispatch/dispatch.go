// Package dispatch routes decoded queue events to per-channel dispatchers
// and runs the shared delivery algorithm: idempotency guard on the outbox
// record, payload state tracking, provider call behind a circuit breaker,
// and channel-specific retry scheduling on failure.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/tsu-platform/notify/backoff"
	"github.com/tsu-platform/notify/message"
	"github.com/tsu-platform/notify/outbox"
)

var (
	// ErrNoDispatcher indicates an event for a channel with no registered
	// dispatcher. Loud on purpose: a silently dropped channel is a
	// configuration bug.
	ErrNoDispatcher = errors.New("no dispatcher registered for channel")

	// ErrSenderRequired indicates a dispatcher built without its provider client.
	ErrSenderRequired = errors.New("sender is required")

	// ErrRepositoryRequired indicates a dispatcher built without a payload store.
	ErrRepositoryRequired = errors.New("payload repository is required")
)

// Retry pacing per channel. Email providers throttle aggressively, so email
// backs off slowly; push tokens go stale fast, so push retries almost
// immediately.
var (
	EmailRetryPolicy = backoff.Policy{Initial: 60 * time.Second, Max: 600 * time.Second}
	SmsRetryPolicy   = backoff.Policy{Initial: 10 * time.Second, Max: 180 * time.Second}
	PushRetryPolicy  = backoff.Policy{Initial: time.Second, Max: 60 * time.Second}
	InAppRetryPolicy = backoff.Policy{Initial: time.Second, Max: 30 * time.Second}
)

// Well-known result codes.
const (
	CodeInvalidToken     = "INVALID_TOKEN"
	CodeUserNotConnected = "USER_NOT_CONNECTED"
	CodeNoActiveTokens   = "NO_ACTIVE_TOKENS"
	CodeCircuitOpen      = "CIRCUIT_OPEN"
	CodeCancelled        = "CANCELLED"
	CodeException        = "EXCEPTION"
	CodeInAppQueued      = "IN_APP_QUEUED"
)

// SendResult is the outcome of one provider call.
type SendResult struct {
	Success      bool
	ProviderID   string
	ProviderName string
	ErrorCode    string
	ErrorMessage string

	// Permanent marks an error that retrying cannot fix, such as a
	// malformed address or a revoked push token.
	Permanent bool
}

// Succeed builds a successful result.
func Succeed(providerName, providerID string) SendResult {
	return SendResult{Success: true, ProviderName: providerName, ProviderID: providerID}
}

// Fail builds a retryable failure.
func Fail(providerName, code, errorMessage string) SendResult {
	return SendResult{ProviderName: providerName, ErrorCode: code, ErrorMessage: errorMessage}
}

// FailPermanent builds a failure that retrying cannot fix.
func FailPermanent(providerName, code, errorMessage string) SendResult {
	return SendResult{ProviderName: providerName, ErrorCode: code, ErrorMessage: errorMessage, Permanent: true}
}

// ErrorText renders the result's error for persistence.
func (result SendResult) ErrorText() string {
	if result.ErrorCode == "" {
		return result.ErrorMessage
	}

	if result.ErrorMessage == "" {
		return result.ErrorCode
	}

	return result.ErrorCode + ": " + result.ErrorMessage
}

// EmailSender delivers one email through a provider.
type EmailSender interface {
	SendEmail(ctx context.Context, email *message.EmailMessage) SendResult
}

// SmsSender delivers one SMS through a provider.
type SmsSender interface {
	SendSms(ctx context.Context, sms *message.SmsMessage) SendResult
}

// PushSender delivers one push notification to one device token.
type PushSender interface {
	SendPush(ctx context.Context, push *message.PushMessage, token *message.DevicePushToken) SendResult
}

// InAppSender delivers one in-app notification to the user's live
// connection, if any. A result with CodeUserNotConnected is not a failure:
// the stored payload reaches the user on their next session.
type InAppSender interface {
	SendInApp(ctx context.Context, inApp *message.InAppMessage) SendResult
}

// ChannelDispatcher handles delivery for one channel.
type ChannelDispatcher interface {
	// Channel reports which channel this dispatcher serves.
	Channel() outbox.Channel

	// Dispatch runs the delivery attempt for one event. A nil return acks
	// the queue delivery; an error requeues it. Attempt failures that were
	// recorded on the outbox record return nil, because their retry is
	// outbox-scheduled, not queue-driven.
	Dispatch(ctx context.Context, event *outbox.EventMessage) error
}
