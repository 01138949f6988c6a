package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/outbox"
	"github.com/tsu-platform/notify/runtime"
)

const instrumentationName = "github.com/tsu-platform/notify/queue"

// EventHandler processes one decoded outbox event. A nil return acks the
// delivery; an error returns it to the queue for redelivery.
type EventHandler func(ctx context.Context, event *outbox.EventMessage) error

// ConsumerConfig controls the receive loop.
type ConsumerConfig struct {
	// MaxMessages caps deliveries fetched per receive call.
	MaxMessages int

	// WaitTime is how long one receive call waits for the first delivery.
	WaitTime time.Duration

	// IdlePause is the pause after an empty or failed receive, keeping a
	// broken transport from spinning the loop hot.
	IdlePause time.Duration
}

// DefaultConsumerConfig returns the production defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MaxMessages: 10,
		WaitTime:    20 * time.Second,
		IdlePause:   time.Second,
	}
}

func (config *ConsumerConfig) normalize() {
	defaults := DefaultConsumerConfig()

	if config.MaxMessages <= 0 {
		config.MaxMessages = defaults.MaxMessages
	}

	if config.WaitTime <= 0 {
		config.WaitTime = defaults.WaitTime
	}

	if config.IdlePause <= 0 {
		config.IdlePause = defaults.IdlePause
	}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerConfig replaces the default configuration.
func WithConsumerConfig(config ConsumerConfig) ConsumerOption {
	return func(consumer *Consumer) {
		consumer.config = config
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger log.Logger) ConsumerOption {
	return func(consumer *Consumer) {
		consumer.logger = log.OrNop(logger)
	}
}

// WithConsumerMeterProvider installs the metrics instruments.
func WithConsumerMeterProvider(provider metric.MeterProvider) ConsumerOption {
	return func(consumer *Consumer) {
		consumer.meterProvider = provider
	}
}

// WithConsumerTracerProvider installs the tracer used to span deliveries.
func WithConsumerTracerProvider(provider trace.TracerProvider) ConsumerOption {
	return func(consumer *Consumer) {
		consumer.tracer = provider.Tracer(instrumentationName)
	}
}

// Consumer pulls deliveries from the queue and routes them through the
// handler. Ack discipline: handled deliveries are acked; malformed bodies
// are dead-lettered; handler failures are requeued for redelivery.
type Consumer struct {
	receiver Receiver
	handler  EventHandler
	logger   log.Logger
	tracer   trace.Tracer
	config   ConsumerConfig

	meterProvider metric.MeterProvider
	handled       metric.Int64Counter
	failed        metric.Int64Counter
	malformed     metric.Int64Counter

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	handleWg   sync.WaitGroup
}

// NewConsumer builds a Consumer over the receiver and handler.
func NewConsumer(receiver Receiver, handler EventHandler, opts ...ConsumerOption) (*Consumer, error) {
	if nilcheck.Interface(receiver) {
		return nil, ErrReceiverRequired
	}

	if handler == nil {
		return nil, ErrHandlerRequired
	}

	consumer := &Consumer{
		receiver: receiver,
		handler:  handler,
		logger:   log.NewNop(),
		tracer:   nooptrace.NewTracerProvider().Tracer(instrumentationName),
		config:   DefaultConsumerConfig(),
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}

	consumer.config.normalize()

	if err := consumer.initMetrics(); err != nil {
		return nil, fmt.Errorf("init queue metrics: %w", err)
	}

	return consumer, nil
}

// Run executes the receive loop until Stop is called or ctx is cancelled.
// It blocks; callers run it on its own goroutine.
func (consumer *Consumer) Run(parentCtx context.Context) error {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !consumer.registerRun(cancel) {
		cancel()

		return errors.New("queue consumer already running")
	}

	defer consumer.clearRun()
	defer runtime.RecoverAndLog(ctx, consumer.logger, "queue", "consumer_run")

	consumer.logger.Log(ctx, log.LevelInfo, "queue consumer started",
		log.Int("max_messages", consumer.config.MaxMessages),
		log.String("wait_time", consumer.config.WaitTime.String()),
	)
	defer consumer.logger.Log(context.Background(), log.LevelInfo, "queue consumer stopped")

	for {
		select {
		case <-consumer.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		if handled := consumer.receiveOnce(ctx); handled == 0 {
			consumer.pause(ctx)
		}
	}
}

// Stop signals the receive loop to stop. Safe to call more than once.
func (consumer *Consumer) Stop() {
	consumer.stopOnce.Do(func() {
		consumer.runStateMu.Lock()
		cancel := consumer.cancelFunc
		consumer.runStateMu.Unlock()

		if cancel != nil {
			cancel()
		}

		close(consumer.stop)
	})
}

// Shutdown stops the loop and waits for in-flight deliveries, bounded by ctx.
func (consumer *Consumer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	consumer.Stop()

	done := make(chan struct{})

	runtime.SafeGo(consumer.logger, "queue.consumer_shutdown_wait", func() {
		consumer.handleWg.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer shutdown: %w", ctx.Err())
	}
}

// receiveOnce fetches one batch and processes it, returning how many
// deliveries were received.
func (consumer *Consumer) receiveOnce(ctx context.Context) int {
	deliveries, err := consumer.receiver.Receive(ctx, consumer.config.MaxMessages, consumer.config.WaitTime)
	if err != nil {
		if ctx.Err() == nil {
			log.SafeError(consumer.logger, ctx, "queue receive failed", err)
		}

		return 0
	}

	for _, delivery := range deliveries {
		if ctx.Err() != nil {
			break
		}

		if delivery == nil {
			continue
		}

		consumer.handleDelivery(ctx, delivery)
	}

	return len(deliveries)
}

func (consumer *Consumer) handleDelivery(ctx context.Context, delivery *Delivery) {
	consumer.handleWg.Add(1)
	defer consumer.handleWg.Done()

	ctx, span := consumer.tracer.Start(ctx, "queue.handle_delivery")
	defer span.End()
	defer runtime.RecoverAndLog(ctx, consumer.logger, "queue", "handle_delivery")

	span.SetAttributes(
		attribute.String("queue.transport_id", delivery.TransportID),
		attribute.Bool("queue.redelivered", delivery.Redelivered),
	)

	event, err := DecodeEventMessage(delivery.Body)
	if err != nil {
		consumer.malformed.Add(ctx, 1)
		consumer.logger.Log(ctx, log.LevelWarn, "dead-lettering malformed delivery",
			log.String("transport_id", delivery.TransportID),
			log.Err(err),
		)
		consumer.nack(ctx, delivery, false)

		return
	}

	if err := consumer.handler(ctx, event); err != nil {
		consumer.failed.Add(ctx, 1)
		consumer.logger.Log(ctx, log.LevelWarn, "delivery handling failed, requeueing",
			log.String("event_id", event.EventID.String()),
			log.String("channel", event.Channel.String()),
			log.Err(err),
		)
		consumer.nack(ctx, delivery, true)

		return
	}

	consumer.handled.Add(ctx, 1)

	if err := consumer.receiver.Ack(ctx, delivery.Receipt); err != nil {
		// The handler already ran; a failed ack means the broker will
		// redeliver and the idempotency guard will skip the work.
		log.SafeError(consumer.logger, ctx, "queue ack failed", err)
	}
}

func (consumer *Consumer) nack(ctx context.Context, delivery *Delivery, requeue bool) {
	if err := consumer.receiver.Nack(ctx, delivery.Receipt, requeue); err != nil {
		log.SafeError(consumer.logger, ctx, "queue nack failed", err)
	}
}

func (consumer *Consumer) pause(ctx context.Context) {
	timer := time.NewTimer(consumer.config.IdlePause)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-consumer.stop:
	case <-ctx.Done():
	}
}

func (consumer *Consumer) initMetrics() error {
	provider := consumer.meterProvider
	if provider == nil {
		provider = noop.NewMeterProvider()
	}

	meter := provider.Meter(instrumentationName)

	handled, err := meter.Int64Counter("queue.deliveries.handled",
		metric.WithDescription("Deliveries handled and acked"))
	if err != nil {
		return err
	}

	failed, err := meter.Int64Counter("queue.deliveries.failed",
		metric.WithDescription("Deliveries whose handler failed and were requeued"))
	if err != nil {
		return err
	}

	malformed, err := meter.Int64Counter("queue.deliveries.malformed",
		metric.WithDescription("Deliveries dead-lettered as undecodable"))
	if err != nil {
		return err
	}

	consumer.handled = handled
	consumer.failed = failed
	consumer.malformed = malformed

	return nil
}

func (consumer *Consumer) registerRun(cancel context.CancelFunc) bool {
	consumer.runStateMu.Lock()
	defer consumer.runStateMu.Unlock()

	if consumer.running {
		return false
	}

	consumer.running = true
	consumer.cancelFunc = cancel

	return true
}

func (consumer *Consumer) clearRun() {
	consumer.runStateMu.Lock()
	defer consumer.runStateMu.Unlock()

	consumer.running = false
	consumer.cancelFunc = nil
}
