package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/runtime"
)

// Maintenance lock keys. Shared by every poller instance so that stuck-reset
// and cleanup run on at most one instance per cycle.
const (
	lockKeyStuckReset = "notify:outbox:stuck-reset"
	lockKeyCleanup    = "notify:outbox:cleanup"
)

// Poller claims ready outbox records and hands them to the queue. It also
// owns the two maintenance loops: returning abandoned PROCESSING records to
// PENDING, and sweeping old PROCESSED records.
type Poller struct {
	repository Repository
	transport  TransportPublisher
	locker     Locker
	logger     log.Logger
	tracer     trace.Tracer
	config     PollerConfig

	meterProvider metric.MeterProvider
	metrics       *pollerMetrics

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	cycleWg    sync.WaitGroup
}

// PollResult captures one claim cycle outcome.
type PollResult struct {
	Claimed   int
	Published int
	Failed    int
}

// NewPoller builds a Poller over the repository and transport.
func NewPoller(repository Repository, transport TransportPublisher, opts ...PollerOption) (*Poller, error) {
	if nilcheck.Interface(repository) {
		return nil, ErrRepositoryRequired
	}

	if nilcheck.Interface(transport) {
		return nil, ErrTransportRequired
	}

	poller := &Poller{
		repository: repository,
		transport:  transport,
		logger:     log.NewNop(),
		tracer:     noopTracer(),
		config:     DefaultPollerConfig(),
		stop:       make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(poller)
		}
	}

	poller.config.normalize()

	metrics, err := newPollerMetrics(poller.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("init outbox metrics: %w", err)
	}

	poller.metrics = metrics

	return poller, nil
}

// Run executes the poll and maintenance loops until Stop is called or ctx is
// cancelled. It blocks; callers run it on its own goroutine.
func (poller *Poller) Run(parentCtx context.Context) error {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !poller.registerRun(cancel) {
		cancel()

		return ErrAlreadyRunning
	}

	defer poller.clearRun()
	defer runtime.RecoverAndLog(ctx, poller.logger, "outbox", "poller_run")

	poller.logger.Log(ctx, log.LevelInfo, "outbox poller started",
		log.String("poll_interval", poller.config.PollInterval.String()),
		log.Int("batch_size", poller.config.BatchSize),
	)
	defer poller.logger.Log(context.Background(), log.LevelInfo, "outbox poller stopped")

	pollTicker := time.NewTicker(poller.config.PollInterval)
	defer pollTicker.Stop()

	stuckTicker := time.NewTicker(poller.config.StuckCheckInterval)
	defer stuckTicker.Stop()

	cleanupTicker := time.NewTicker(poller.config.CleanupInterval)
	defer cleanupTicker.Stop()

	poller.runCycle(ctx, "outbox.poller.initial_poll", func(cycleCtx context.Context) {
		poller.PollOnce(cycleCtx)
	})

	for {
		select {
		case <-poller.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			poller.runCycle(ctx, "outbox.poller.poll", func(cycleCtx context.Context) {
				poller.PollOnce(cycleCtx)
			})
		case <-stuckTicker.C:
			poller.runCycle(ctx, "outbox.poller.stuck_reset", func(cycleCtx context.Context) {
				poller.ResetStuck(cycleCtx)
			})
		case <-cleanupTicker.C:
			poller.runCycle(ctx, "outbox.poller.cleanup", func(cycleCtx context.Context) {
				poller.CleanupProcessed(cycleCtx)
			})
		}
	}
}

// Stop signals the loops to stop. Safe to call more than once.
func (poller *Poller) Stop() {
	poller.stopOnce.Do(func() {
		poller.runStateMu.Lock()
		cancel := poller.cancelFunc
		poller.runStateMu.Unlock()

		if cancel != nil {
			cancel()
		}

		close(poller.stop)
	})
}

// Shutdown stops the loops and waits for in-flight cycles to finish, bounded
// by ctx.
func (poller *Poller) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	poller.Stop()

	done := make(chan struct{})

	runtime.SafeGo(poller.logger, "outbox.poller_shutdown_wait", func() {
		poller.cycleWg.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("poller shutdown: %w", ctx.Err())
	}
}

// PollOnce runs a single claim-and-publish cycle and returns its counters.
// Delivery is at-least-once: records stay PROCESSING after a successful
// publish and are finalized by the consumer after the dispatch attempt, so a
// crash between publish and finalize yields a redelivery, never a loss.
func (poller *Poller) PollOnce(ctx context.Context) PollResult {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now().UTC()

	ctx, span := poller.tracer.Start(ctx, "outbox.poll")
	defer span.End()

	result := PollResult{}

	records, err := poller.repository.ClaimReady(ctx, poller.config.BatchSize)
	if err != nil {
		log.SafeError(poller.logger, ctx, "outbox claim cycle failed", err)

		return result
	}

	result.Claimed = len(records)
	poller.metrics.claimed.Add(ctx, int64(len(records)))

	for _, record := range records {
		if ctx.Err() != nil {
			break
		}

		if record == nil {
			continue
		}

		if err := poller.publishRecord(ctx, record); err != nil {
			result.Failed++

			continue
		}

		result.Published++
	}

	poller.metrics.published.Add(ctx, int64(result.Published))
	poller.metrics.publishFailed.Add(ctx, int64(result.Failed))
	poller.metrics.pollDuration.Record(ctx, time.Since(start).Seconds())

	if result.Claimed > 0 {
		poller.logger.Log(ctx, log.LevelDebug, "outbox poll cycle finished",
			log.Int("claimed", result.Claimed),
			log.Int("published", result.Published),
			log.Int("failed", result.Failed),
		)
	}

	span.SetAttributes(
		attribute.Int("outbox.claimed", result.Claimed),
		attribute.Int("outbox.published", result.Published),
		attribute.Int("outbox.failed", result.Failed),
	)

	return result
}

// ResetStuck returns abandoned PROCESSING records to PENDING. With a locker
// configured, only the instance holding the lock performs the reset.
func (poller *Poller) ResetStuck(ctx context.Context) {
	poller.withMaintenanceLock(ctx, lockKeyStuckReset, func(lockCtx context.Context) error {
		stuckBefore := time.Now().UTC().Add(-poller.config.StuckThreshold)

		reset, err := poller.repository.ResetStuck(lockCtx, stuckBefore, poller.config.StuckResetLimit)
		if err != nil {
			return fmt.Errorf("reset stuck records: %w", err)
		}

		if reset > 0 {
			poller.metrics.stuckReset.Add(lockCtx, reset)
			poller.logger.Log(lockCtx, log.LevelWarn, "reset stuck outbox records",
				log.Any("count", reset),
				log.String("stuck_before", stuckBefore.Format(time.RFC3339)),
			)
		}

		return nil
	})
}

// CleanupProcessed removes PROCESSED records older than the retention period.
func (poller *Poller) CleanupProcessed(ctx context.Context) {
	poller.withMaintenanceLock(ctx, lockKeyCleanup, func(lockCtx context.Context) error {
		threshold := time.Now().UTC().Add(-poller.config.RetentionPeriod)

		deleted, err := poller.repository.DeleteProcessedBefore(lockCtx, threshold)
		if err != nil {
			return fmt.Errorf("cleanup processed records: %w", err)
		}

		if deleted > 0 {
			poller.metrics.cleanupDeleted.Add(lockCtx, deleted)
			poller.logger.Log(lockCtx, log.LevelInfo, "cleaned up processed outbox records",
				log.Any("count", deleted),
				log.String("older_than", threshold.Format(time.RFC3339)),
			)
		}

		return nil
	})
}

func (poller *Poller) publishRecord(ctx context.Context, record *OutboxRecord) error {
	transportID, err := poller.transport.PublishRecord(ctx, record)
	if err != nil {
		poller.handlePublishError(ctx, record, err)

		return err
	}

	poller.logger.Log(ctx, log.LevelDebug, "outbox record handed to queue",
		log.String("outbox_id", record.ID.String()),
		log.String("channel", record.Channel.String()),
		log.String("transport_id", transportID),
	)

	return nil
}

func (poller *Poller) handlePublishError(ctx context.Context, record *OutboxRecord, publishErr error) {
	sanitized := SanitizeError(publishErr)

	if err := record.ScheduleRetry(time.Now().UTC(), poller.config.PublishRetryPolicy, sanitized); err != nil {
		log.SafeError(poller.logger, ctx, "outbox retry scheduling failed", err)

		return
	}

	if err := poller.repository.MarkFailed(ctx, record); err != nil {
		log.SafeError(poller.logger, ctx, "outbox failure persistence failed", err)

		return
	}

	level := log.LevelWarn
	if record.IsExhausted() {
		level = log.LevelError
	}

	poller.logger.Log(ctx, level, "outbox publish failed",
		log.String("outbox_id", record.ID.String()),
		log.String("channel", record.Channel.String()),
		log.Int("attempt_count", record.AttemptCount),
		log.Int("max_attempts", record.MaxAttempts),
		log.Bool("exhausted", record.IsExhausted()),
		log.String("error", sanitized),
	)
}

// withMaintenanceLock runs fn under the distributed lock when a locker is
// configured; otherwise fn runs unconditionally. Losing the lock race is not
// an error: another instance is doing the work.
func (poller *Poller) withMaintenanceLock(ctx context.Context, key string, fn func(context.Context) error) {
	if ctx == nil {
		ctx = context.Background()
	}

	run := func(lockCtx context.Context) {
		if err := fn(lockCtx); err != nil {
			log.SafeError(poller.logger, lockCtx, "outbox maintenance job failed", err)
		}
	}

	if nilcheck.Interface(poller.locker) {
		run(ctx)

		return
	}

	acquired, err := poller.locker.WithLock(ctx, key, poller.config.LockTTL, func(lockCtx context.Context) error {
		run(lockCtx)

		return nil
	})
	if err != nil {
		log.SafeError(poller.logger, ctx, "outbox maintenance lock failed", err)

		return
	}

	if !acquired {
		poller.logger.Log(ctx, log.LevelDebug, "outbox maintenance lock held elsewhere",
			log.String("lock_key", key),
		)
	}
}

func (poller *Poller) runCycle(ctx context.Context, span string, fn func(context.Context)) {
	select {
	case <-poller.stop:
		return
	case <-ctx.Done():
		return
	default:
	}

	poller.cycleWg.Add(1)
	defer poller.cycleWg.Done()

	cycleCtx, cycleSpan := poller.tracer.Start(ctx, span)
	defer cycleSpan.End()
	defer runtime.RecoverAndLog(cycleCtx, poller.logger, "outbox", span)

	fn(cycleCtx)
}

func (poller *Poller) registerRun(cancel context.CancelFunc) bool {
	poller.runStateMu.Lock()
	defer poller.runStateMu.Unlock()

	if poller.running {
		return false
	}

	poller.running = true
	poller.cancelFunc = cancel

	return true
}

func (poller *Poller) clearRun() {
	poller.runStateMu.Lock()
	defer poller.runStateMu.Unlock()

	poller.running = false
	poller.cancelFunc = nil
}
