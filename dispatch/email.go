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

// EmailDispatcher delivers email payloads.
type EmailDispatcher struct {
	core   dispatcherCore
	emails message.EmailRepository
	sender EmailSender
}

var _ ChannelDispatcher = (*EmailDispatcher)(nil)

// NewEmailDispatcher builds the email channel dispatcher.
func NewEmailDispatcher(outboxRepo outbox.Repository, emails message.EmailRepository, sender EmailSender, logger log.Logger) (*EmailDispatcher, error) {
	if nilcheck.Interface(emails) {
		return nil, ErrRepositoryRequired
	}

	if nilcheck.Interface(sender) {
		return nil, ErrSenderRequired
	}

	core, err := newDispatcherCore(outbox.ChannelEmail, outboxRepo, EmailRetryPolicy, logger)
	if err != nil {
		return nil, err
	}

	return &EmailDispatcher{core: core, emails: emails, sender: sender}, nil
}

// Channel reports the channel this dispatcher serves.
func (dispatcher *EmailDispatcher) Channel() outbox.Channel {
	return outbox.ChannelEmail
}

// Dispatch runs one delivery attempt for an email event.
func (dispatcher *EmailDispatcher) Dispatch(ctx context.Context, event *outbox.EventMessage) error {
	record, proceed, err := dispatcher.core.claimGuard(ctx, event)
	if err != nil || !proceed {
		return err
	}

	email, err := dispatcher.emails.GetByID(ctx, event.MessageID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return dispatcher.core.markInvalid(ctx, record, "email payload not found")
		}

		return fmt.Errorf("loading email payload: %w", err)
	}

	// A payload already sent with an unfinalized record means a crash
	// between provider accept and MarkProcessed. Finish the bookkeeping
	// without re-sending.
	if email.State.Status == message.StatusSent {
		return dispatcher.core.finalizeSuccess(ctx, record, Succeed("email", email.State.ProviderID))
	}

	now := time.Now().UTC()

	if err := email.State.MarkSending(now); err != nil {
		return fmt.Errorf("marking email sending: %w", err)
	}

	if err := dispatcher.emails.UpdateDeliveryState(ctx, email); err != nil {
		return fmt.Errorf("persisting email sending state: %w", err)
	}

	result := dispatcher.core.guard.call(ctx, "email", func(callCtx context.Context) SendResult {
		return dispatcher.sender.SendEmail(callCtx, email)
	})

	if result.Success {
		if err := email.State.MarkSent(time.Now().UTC(), result.ProviderID); err != nil {
			return fmt.Errorf("marking email sent: %w", err)
		}

		if err := dispatcher.emails.UpdateDeliveryState(ctx, email); err != nil {
			return fmt.Errorf("persisting email sent state: %w", err)
		}

		return dispatcher.core.finalizeSuccess(ctx, record, result)
	}

	if err := email.State.MarkFailed(outbox.SanitizeErrorMessage(result.ErrorText())); err != nil {
		return fmt.Errorf("marking email failed: %w", err)
	}

	if err := dispatcher.emails.UpdateDeliveryState(ctx, email); err != nil {
		return fmt.Errorf("persisting email failed state: %w", err)
	}

	return dispatcher.core.finalizeFailure(ctx, record, result)
}
