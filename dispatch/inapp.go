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

// InAppDispatcher delivers in-app payloads. The payload row is the
// notification; the sender only pushes it to a live connection. An offline
// user is still a delivered notification, surfaced on their next session.
type InAppDispatcher struct {
	core   dispatcherCore
	inApps message.InAppRepository
	sender InAppSender
}

var _ ChannelDispatcher = (*InAppDispatcher)(nil)

// NewInAppDispatcher builds the in-app channel dispatcher.
func NewInAppDispatcher(outboxRepo outbox.Repository, inApps message.InAppRepository, sender InAppSender, logger log.Logger) (*InAppDispatcher, error) {
	if nilcheck.Interface(inApps) {
		return nil, ErrRepositoryRequired
	}

	if nilcheck.Interface(sender) {
		return nil, ErrSenderRequired
	}

	core, err := newDispatcherCore(outbox.ChannelInApp, outboxRepo, InAppRetryPolicy, logger)
	if err != nil {
		return nil, err
	}

	return &InAppDispatcher{core: core, inApps: inApps, sender: sender}, nil
}

// Channel reports the channel this dispatcher serves.
func (dispatcher *InAppDispatcher) Channel() outbox.Channel {
	return outbox.ChannelInApp
}

// Dispatch runs one delivery attempt for an in-app event.
func (dispatcher *InAppDispatcher) Dispatch(ctx context.Context, event *outbox.EventMessage) error {
	record, proceed, err := dispatcher.core.claimGuard(ctx, event)
	if err != nil || !proceed {
		return err
	}

	inApp, err := dispatcher.inApps.GetByID(ctx, event.MessageID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return dispatcher.core.markInvalid(ctx, record, "in-app payload not found")
		}

		return fmt.Errorf("loading in-app payload: %w", err)
	}

	if inApp.State.Status == message.StatusSent {
		return dispatcher.core.finalizeSuccess(ctx, record, Succeed("in-app", inApp.State.ProviderID))
	}

	if err := inApp.State.MarkSending(time.Now().UTC()); err != nil {
		return fmt.Errorf("marking in-app sending: %w", err)
	}

	if err := dispatcher.inApps.UpdateDeliveryState(ctx, inApp); err != nil {
		return fmt.Errorf("persisting in-app sending state: %w", err)
	}

	result := dispatcher.core.guard.call(ctx, "in-app", func(callCtx context.Context) SendResult {
		return dispatcher.sender.SendInApp(callCtx, inApp)
	})

	// The user being offline is a success: the stored notification reaches
	// them when they next connect. The queued pseudo-provider records the
	// stored row as the delivery reference.
	if !result.Success && result.ErrorCode == CodeUserNotConnected {
		result = Succeed(CodeInAppQueued, record.ID.String())
	}

	if result.Success {
		if err := inApp.State.MarkSent(time.Now().UTC(), result.ProviderID); err != nil {
			return fmt.Errorf("marking in-app sent: %w", err)
		}

		if err := dispatcher.inApps.UpdateDeliveryState(ctx, inApp); err != nil {
			return fmt.Errorf("persisting in-app sent state: %w", err)
		}

		return dispatcher.core.finalizeSuccess(ctx, record, result)
	}

	if err := inApp.State.MarkFailed(outbox.SanitizeErrorMessage(result.ErrorText())); err != nil {
		return fmt.Errorf("marking in-app failed: %w", err)
	}

	if err := dispatcher.inApps.UpdateDeliveryState(ctx, inApp); err != nil {
		return fmt.Errorf("persisting in-app failed state: %w", err)
	}

	return dispatcher.core.finalizeFailure(ctx, record, result)
}
