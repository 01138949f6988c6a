package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/message"
	"github.com/tsu-platform/notify/outbox"
)

// SmsDispatcher delivers SMS payloads.
type SmsDispatcher struct {
	core   dispatcherCore
	sms    message.SmsRepository
	sender SmsSender
}

var _ ChannelDispatcher = (*SmsDispatcher)(nil)

// NewSmsDispatcher builds the SMS channel dispatcher.
func NewSmsDispatcher(outboxRepo outbox.Repository, sms message.SmsRepository, sender SmsSender, logger log.Logger) (*SmsDispatcher, error) {
	if nilcheck.Interface(sms) {
		return nil, ErrRepositoryRequired
	}

	if nilcheck.Interface(sender) {
		return nil, ErrSenderRequired
	}

	core, err := newDispatcherCore(outbox.ChannelSms, outboxRepo, SmsRetryPolicy, logger)
	if err != nil {
		return nil, err
	}

	return &SmsDispatcher{core: core, sms: sms, sender: sender}, nil
}

// Channel reports the channel this dispatcher serves.
func (dispatcher *SmsDispatcher) Channel() outbox.Channel {
	return outbox.ChannelSms
}

// Dispatch runs one delivery attempt for an SMS event.
func (dispatcher *SmsDispatcher) Dispatch(ctx context.Context, event *outbox.EventMessage) error {
	record, proceed, err := dispatcher.core.claimGuard(ctx, event)
	if err != nil || !proceed {
		return err
	}

	sms, err := dispatcher.sms.GetByID(ctx, event.MessageID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return dispatcher.core.markInvalid(ctx, record, "sms payload not found")
		}

		return fmt.Errorf("loading sms payload: %w", err)
	}

	if sms.State.Status == message.StatusSent {
		return dispatcher.core.finalizeSuccess(ctx, record, Succeed("sms", sms.State.ProviderID))
	}

	if err := sms.State.MarkSending(time.Now().UTC()); err != nil {
		return fmt.Errorf("marking sms sending: %w", err)
	}

	if err := dispatcher.sms.UpdateDeliveryState(ctx, sms); err != nil {
		return fmt.Errorf("persisting sms sending state: %w", err)
	}

	result := dispatcher.core.guard.call(ctx, "sms", func(callCtx context.Context) SendResult {
		return dispatcher.sender.SendSms(callCtx, sms)
	})

	if result.Success {
		if err := sms.State.MarkSent(time.Now().UTC(), result.ProviderID); err != nil {
			return fmt.Errorf("marking sms sent: %w", err)
		}

		if err := dispatcher.sms.UpdateDeliveryState(ctx, sms); err != nil {
			return fmt.Errorf("persisting sms sent state: %w", err)
		}

		return dispatcher.core.finalizeSuccess(ctx, record, result)
	}

	if err := sms.State.MarkFailed(outbox.SanitizeErrorMessage(result.ErrorText())); err != nil {
		return fmt.Errorf("marking sms failed: %w", err)
	}

	if err := dispatcher.sms.UpdateDeliveryState(ctx, sms); err != nil {
		return fmt.Errorf("persisting sms failed state: %w", err)
	}

	return dispatcher.core.finalizeFailure(ctx, record, result)
}
