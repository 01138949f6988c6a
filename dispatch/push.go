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

// PushDispatcher delivers push payloads by fanning out to every active
// device token of the user. Delivery succeeds when at least one token takes
// the message; tokens the provider reports as permanently bad are revoked on
// the spot.
type PushDispatcher struct {
	core    dispatcherCore
	pushes  message.PushRepository
	devices message.DeviceTokenRepository
	sender  PushSender
}

var _ ChannelDispatcher = (*PushDispatcher)(nil)

// NewPushDispatcher builds the push channel dispatcher.
func NewPushDispatcher(
	outboxRepo outbox.Repository,
	pushes message.PushRepository,
	devices message.DeviceTokenRepository,
	sender PushSender,
	logger log.Logger,
) (*PushDispatcher, error) {
	if nilcheck.Interface(pushes) || nilcheck.Interface(devices) {
		return nil, ErrRepositoryRequired
	}

	if nilcheck.Interface(sender) {
		return nil, ErrSenderRequired
	}

	core, err := newDispatcherCore(outbox.ChannelPush, outboxRepo, PushRetryPolicy, logger)
	if err != nil {
		return nil, err
	}

	return &PushDispatcher{core: core, pushes: pushes, devices: devices, sender: sender}, nil
}

// Channel reports the channel this dispatcher serves.
func (dispatcher *PushDispatcher) Channel() outbox.Channel {
	return outbox.ChannelPush
}

// Dispatch runs one delivery attempt for a push event.
func (dispatcher *PushDispatcher) Dispatch(ctx context.Context, event *outbox.EventMessage) error {
	record, proceed, err := dispatcher.core.claimGuard(ctx, event)
	if err != nil || !proceed {
		return err
	}

	push, err := dispatcher.pushes.GetByID(ctx, event.MessageID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return dispatcher.core.markInvalid(ctx, record, "push payload not found")
		}

		return fmt.Errorf("loading push payload: %w", err)
	}

	if push.State.Status == message.StatusSent {
		return dispatcher.core.finalizeSuccess(ctx, record, Succeed("push", push.State.ProviderID))
	}

	tokens, err := dispatcher.devices.ActiveByUser(ctx, push.UserID)
	if err != nil {
		return fmt.Errorf("listing device tokens: %w", err)
	}

	if err := push.State.MarkSending(time.Now().UTC()); err != nil {
		return fmt.Errorf("marking push sending: %w", err)
	}

	if err := dispatcher.pushes.UpdateDeliveryState(ctx, push); err != nil {
		return fmt.Errorf("persisting push sending state: %w", err)
	}

	// A user with no registered devices cannot be reached, now or on any
	// retry. Terminal failure.
	if len(tokens) == 0 {
		result := FailPermanent("push", CodeNoActiveTokens, "user has no active device tokens")

		if err := push.State.MarkFailed(result.ErrorText()); err != nil {
			return fmt.Errorf("marking push failed: %w", err)
		}

		if err := dispatcher.pushes.UpdateDeliveryState(ctx, push); err != nil {
			return fmt.Errorf("persisting push failed state: %w", err)
		}

		return dispatcher.core.finalizeFailure(ctx, record, result)
	}

	result := dispatcher.fanOut(ctx, push, tokens)

	if result.Success {
		if err := push.State.MarkSent(time.Now().UTC(), result.ProviderID); err != nil {
			return fmt.Errorf("marking push sent: %w", err)
		}

		if err := dispatcher.pushes.UpdateDeliveryState(ctx, push); err != nil {
			return fmt.Errorf("persisting push sent state: %w", err)
		}

		return dispatcher.core.finalizeSuccess(ctx, record, result)
	}

	if err := push.State.MarkFailed(outbox.SanitizeErrorMessage(result.ErrorText())); err != nil {
		return fmt.Errorf("marking push failed: %w", err)
	}

	if err := dispatcher.pushes.UpdateDeliveryState(ctx, push); err != nil {
		return fmt.Errorf("persisting push failed state: %w", err)
	}

	return dispatcher.core.finalizeFailure(ctx, record, result)
}

// fanOut tries every token and aggregates. At least one accepted send makes
// the attempt a success; a mix of only permanent errors is itself permanent
// because every token the user had is now revoked.
func (dispatcher *PushDispatcher) fanOut(ctx context.Context, push *message.PushMessage, tokens []*message.DevicePushToken) SendResult {
	delivered := 0
	retryable := 0

	var firstSuccess SendResult

	// Seed the failure so a cancellation before the first provider call still
	// surfaces a coded error instead of a zero-value result.
	lastFailure := Fail("push", CodeCancelled, "context cancelled before send")

	for _, token := range tokens {
		if ctx.Err() != nil {
			retryable++

			break
		}

		result := dispatcher.core.guard.call(ctx, "push", func(callCtx context.Context) SendResult {
			return dispatcher.sender.SendPush(callCtx, push, token)
		})

		if result.Success {
			delivered++

			if delivered == 1 {
				firstSuccess = result
			}

			if err := dispatcher.devices.MarkUsed(ctx, token.ID, time.Now().UTC()); err != nil {
				log.SafeError(dispatcher.core.logger, ctx, "marking device token used failed", err)
			}

			continue
		}

		lastFailure = result

		if result.Permanent {
			if err := dispatcher.devices.Revoke(ctx, token.ID, time.Now().UTC()); err != nil {
				log.SafeError(dispatcher.core.logger, ctx, "revoking device token failed", err)
			}

			dispatcher.core.logger.Log(ctx, log.LevelWarn, "device token revoked",
				log.String("user_id", push.UserID),
				log.String("device_id", token.DeviceID),
				log.String("platform", string(token.Platform)),
				log.String("code", result.ErrorCode),
			)

			continue
		}

		retryable++
	}

	if delivered > 0 {
		dispatcher.core.logger.Log(ctx, log.LevelDebug, "push fan-out finished",
			log.String("user_id", push.UserID),
			log.Int("delivered", delivered),
			log.Int("tokens", len(tokens)),
		)

		return firstSuccess
	}

	if retryable == 0 {
		// Every token failed permanently and was revoked.
		lastFailure.Permanent = true
	}

	return lastFailure
}
