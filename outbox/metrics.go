package outbox

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/tsu-platform/notify/outbox"

type pollerMetrics struct {
	claimed        metric.Int64Counter
	published      metric.Int64Counter
	publishFailed  metric.Int64Counter
	stuckReset     metric.Int64Counter
	cleanupDeleted metric.Int64Counter
	pollDuration   metric.Float64Histogram
}

func newPollerMetrics(provider metric.MeterProvider) (*pollerMetrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}

	meter := provider.Meter(instrumentationName)

	claimed, err := meter.Int64Counter("outbox.records.claimed",
		metric.WithDescription("Records moved to PROCESSING by claim cycles"))
	if err != nil {
		return nil, err
	}

	published, err := meter.Int64Counter("outbox.records.published",
		metric.WithDescription("Claimed records handed to the queue"))
	if err != nil {
		return nil, err
	}

	publishFailed, err := meter.Int64Counter("outbox.records.publish_failed",
		metric.WithDescription("Claimed records that failed to reach the queue"))
	if err != nil {
		return nil, err
	}

	stuckReset, err := meter.Int64Counter("outbox.records.stuck_reset",
		metric.WithDescription("Abandoned PROCESSING records returned to PENDING"))
	if err != nil {
		return nil, err
	}

	cleanupDeleted, err := meter.Int64Counter("outbox.records.cleanup_deleted",
		metric.WithDescription("PROCESSED records removed by the retention sweep"))
	if err != nil {
		return nil, err
	}

	pollDuration, err := meter.Float64Histogram("outbox.poll.duration",
		metric.WithDescription("Poll cycle duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &pollerMetrics{
		claimed:        claimed,
		published:      published,
		publishFailed:  publishFailed,
		stuckReset:     stuckReset,
		cleanupDeleted: cleanupDeleted,
		pollDuration:   pollDuration,
	}, nil
}
