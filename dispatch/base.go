package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tsu-platform/notify/backoff"
	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/outbox"
)

// dispatcherCore carries the pieces every channel dispatcher shares: the
// outbox repository for claim guarding and finalization, the retry policy,
// and the breaker-guarded provider call.
type dispatcherCore struct {
	channel    outbox.Channel
	outboxRepo outbox.Repository
	policy     backoff.Policy
	guard      *breakerGuard
	logger     log.Logger
}

func newDispatcherCore(channel outbox.Channel, outboxRepo outbox.Repository, policy backoff.Policy, logger log.Logger) (dispatcherCore, error) {
	if nilcheck.Interface(outboxRepo) {
		return dispatcherCore{}, outbox.ErrRepositoryRequired
	}

	logger = log.OrNop(logger)

	return dispatcherCore{
		channel:    channel,
		outboxRepo: outboxRepo,
		policy:     policy,
		guard:      newBreakerGuard("dispatch."+string(channel), logger),
		logger:     logger,
	}, nil
}

// claimGuard loads the outbox record and decides whether this delivery needs
// work. Redeliveries of already-finalized records and stale deliveries of
// records the poller has rescheduled are both skipped with a clean ack.
func (core *dispatcherCore) claimGuard(ctx context.Context, event *outbox.EventMessage) (*outbox.OutboxRecord, bool, error) {
	record, err := core.outboxRepo.GetByID(ctx, event.EventID)
	if err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			core.logger.Log(ctx, log.LevelWarn, "dropping delivery for unknown record",
				log.String("event_id", event.EventID.String()),
				log.String("channel", event.Channel.String()),
			)

			return nil, false, nil
		}

		return nil, false, fmt.Errorf("loading outbox record: %w", err)
	}

	if record.Status != outbox.StatusProcessing {
		core.logger.Log(ctx, log.LevelDebug, "skipping delivery already finalized",
			log.String("event_id", event.EventID.String()),
			log.String("status", record.Status.String()),
		)

		return nil, false, nil
	}

	return record, true, nil
}

// markInvalid terminally flags a record whose payload is gone.
func (core *dispatcherCore) markInvalid(ctx context.Context, record *outbox.OutboxRecord, reason string) error {
	if err := core.outboxRepo.MarkInvalid(ctx, record.ID, reason); err != nil {
		return fmt.Errorf("marking record invalid: %w", err)
	}

	core.logger.Log(ctx, log.LevelError, "outbox record invalidated",
		log.String("event_id", record.ID.String()),
		log.String("channel", record.Channel.String()),
		log.String("reason", reason),
	)

	return nil
}

// finalizeSuccess closes the record after an accepted delivery.
func (core *dispatcherCore) finalizeSuccess(ctx context.Context, record *outbox.OutboxRecord, result SendResult) error {
	if err := core.outboxRepo.MarkProcessed(ctx, record.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("marking record processed: %w", err)
	}

	core.logger.Log(ctx, log.LevelInfo, "notification delivered",
		log.String("event_id", record.ID.String()),
		log.String("channel", record.Channel.String()),
		log.String("provider", result.ProviderName),
		log.String("provider_id", result.ProviderID),
	)

	return nil
}

// finalizeFailure records the failed attempt on the record. Permanent errors
// exhaust the record immediately; retryable ones schedule the next attempt
// per the channel's policy. Either way the queue delivery is done, so the
// caller acks.
func (core *dispatcherCore) finalizeFailure(ctx context.Context, record *outbox.OutboxRecord, result SendResult) error {
	sanitized := outbox.SanitizeErrorMessage(result.ErrorText())

	var err error
	if result.Permanent {
		err = record.ExhaustRetries(sanitized)
	} else {
		err = record.ScheduleRetry(time.Now().UTC(), core.policy, sanitized)
	}

	if err != nil {
		return fmt.Errorf("scheduling record retry: %w", err)
	}

	if err := core.outboxRepo.MarkFailed(ctx, record); err != nil {
		return fmt.Errorf("marking record failed: %w", err)
	}

	level := log.LevelWarn
	if record.IsExhausted() {
		level = log.LevelError
	}

	core.logger.Log(ctx, level, "notification delivery failed",
		log.String("event_id", record.ID.String()),
		log.String("channel", record.Channel.String()),
		log.String("provider", result.ProviderName),
		log.String("error", sanitized),
		log.Int("attempt_count", record.AttemptCount),
		log.Int("max_attempts", record.MaxAttempts),
		log.Bool("exhausted", record.IsExhausted()),
	)

	return nil
}
