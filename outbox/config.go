package outbox

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/tsu-platform/notify/backoff"
	"github.com/tsu-platform/notify/log"
)

// PollerConfig controls the polling, stuck-reset, and cleanup loops.
type PollerConfig struct {
	// PollInterval is the pause between claim cycles.
	PollInterval time.Duration

	// BatchSize caps the number of records claimed per cycle.
	BatchSize int

	// StuckThreshold is the claim age after which a PROCESSING record is
	// considered abandoned by a crashed instance.
	StuckThreshold time.Duration

	// StuckCheckInterval is the cadence of the stuck-reset job.
	StuckCheckInterval time.Duration

	// StuckResetLimit caps how many records one stuck-reset pass touches.
	StuckResetLimit int

	// CleanupInterval is the cadence of the retention sweep.
	CleanupInterval time.Duration

	// RetentionPeriod is how long PROCESSED records are kept.
	RetentionPeriod time.Duration

	// PublishRetryPolicy schedules the next attempt when handing a claimed
	// record to the queue fails.
	PublishRetryPolicy backoff.Policy

	// LockTTL bounds how long a maintenance lock is held if an instance dies
	// mid-job.
	LockTTL time.Duration
}

// DefaultPollerConfig returns the production defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		PollInterval:       5 * time.Second,
		BatchSize:          100,
		StuckThreshold:     time.Hour,
		StuckCheckInterval: time.Hour,
		StuckResetLimit:    500,
		CleanupInterval:    24 * time.Hour,
		RetentionPeriod:    7 * 24 * time.Hour,
		PublishRetryPolicy: backoff.Policy{Initial: time.Minute, Max: 15 * time.Minute},
		LockTTL:            5 * time.Minute,
	}
}

func (config *PollerConfig) normalize() {
	defaults := DefaultPollerConfig()

	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}

	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	if config.StuckThreshold <= 0 {
		config.StuckThreshold = defaults.StuckThreshold
	}

	if config.StuckCheckInterval <= 0 {
		config.StuckCheckInterval = defaults.StuckCheckInterval
	}

	if config.StuckResetLimit <= 0 {
		config.StuckResetLimit = defaults.StuckResetLimit
	}

	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	if config.RetentionPeriod <= 0 {
		config.RetentionPeriod = defaults.RetentionPeriod
	}

	if !config.PublishRetryPolicy.Valid() {
		config.PublishRetryPolicy = defaults.PublishRetryPolicy
	}

	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithConfig replaces the default poller configuration. Zero-valued fields
// fall back to defaults.
func WithConfig(config PollerConfig) PollerOption {
	return func(poller *Poller) {
		poller.config = config
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) PollerOption {
	return func(poller *Poller) {
		poller.logger = log.OrNop(logger)
	}
}

// WithLocker sets the distributed lock used to serialize maintenance jobs
// across instances. Without one, every instance runs its own maintenance.
func WithLocker(locker Locker) PollerOption {
	return func(poller *Poller) {
		poller.locker = locker
	}
}

// WithMeterProvider installs the metrics instruments.
func WithMeterProvider(provider metric.MeterProvider) PollerOption {
	return func(poller *Poller) {
		poller.meterProvider = provider
	}
}

// WithTracerProvider installs the tracer used to span poll cycles.
func WithTracerProvider(provider trace.TracerProvider) PollerOption {
	return func(poller *Poller) {
		poller.tracer = provider.Tracer(instrumentationName)
	}
}

func noopTracer() trace.Tracer {
	return nooptrace.NewTracerProvider().Tracer(instrumentationName)
}
