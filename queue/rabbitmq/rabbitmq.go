// Package rabbitmq implements the delivery queue on RabbitMQ. Topology per
// destination: the destination queue itself, a ".dlq" queue receiving
// rejected deliveries, and a ".wait" queue whose expired messages dead-letter
// back into the destination, which is how delayed sends work without a broker
// plugin.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/queue"
)

const (
	dlqSuffix  = ".dlq"
	waitSuffix = ".wait"

	defaultPrefetch       = 100
	defaultConfirmTimeout = 10 * time.Second
	contentTypeJSON       = "application/json"
)

var (
	// ErrNotConnected indicates the client was used before Connect.
	ErrNotConnected = errors.New("rabbitmq not connected")

	// ErrUnknownReceipt indicates an Ack or Nack for a delivery this client
	// does not hold, typically after a channel-level redelivery.
	ErrUnknownReceipt = errors.New("unknown delivery receipt")

	// ErrConfirmTimeout indicates the broker did not confirm a publish in time.
	ErrConfirmTimeout = errors.New("publish confirm timed out")

	// ErrPublishNacked indicates the broker refused a publish.
	ErrPublishNacked = errors.New("publish nacked by broker")
)

// BuildConnectionString assembles an AMQP URI with escaped credentials.
func BuildConnectionString(protocol, user, pass, host, port, vhost string) string {
	vhost = strings.TrimPrefix(vhost, "/")

	return fmt.Sprintf("%s://%s:%s@%s:%s/%s",
		protocol,
		url.QueryEscape(user),
		url.QueryEscape(pass),
		host,
		port,
		url.QueryEscape(vhost),
	)
}

// Config describes one destination queue on a broker.
type Config struct {
	// ConnectionString is the AMQP URI.
	ConnectionString string

	// QueueName is the destination queue.
	QueueName string

	// Prefetch bounds unacked deliveries per consumer.
	Prefetch int

	// ConfirmTimeout bounds the wait for a publisher confirm.
	ConfirmTimeout time.Duration
}

func (config *Config) normalize() {
	if config.Prefetch <= 0 {
		config.Prefetch = defaultPrefetch
	}

	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = defaultConfirmTimeout
	}
}

// Client is a queue.Queue and queue.Receiver over one RabbitMQ queue. One
// channel in confirm mode serves publishes; a second channel feeds the
// consumer stream.
type Client struct {
	config Config
	logger log.Logger

	mu          sync.Mutex
	connection  *amqp.Connection
	publishCh   *amqp.Channel
	consumeCh   *amqp.Channel
	deliveries  <-chan amqp.Delivery
	consumerTag string
	connected   bool

	pendingMu sync.Mutex
	pending   map[string]amqp.Delivery
}

var (
	_ queue.Queue    = (*Client)(nil)
	_ queue.Receiver = (*Client)(nil)
)

// NewClient builds an unconnected client.
func NewClient(config Config, logger log.Logger) *Client {
	config.normalize()

	return &Client{
		config:  config,
		logger:  log.OrNop(logger),
		pending: make(map[string]amqp.Delivery),
	}
}

// Connect dials the broker, declares the topology, and starts the consumer
// stream. Safe to call once; later calls are no-ops while connected.
func (client *Client) Connect(ctx context.Context) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.connected {
		return nil
	}

	connection, err := amqp.Dial(client.config.ConnectionString)
	if err != nil {
		return sanitizeAMQPErr(err, client.config.ConnectionString, "rabbitmq dial")
	}

	if err := client.setupLocked(connection); err != nil {
		_ = connection.Close()

		return err
	}

	client.logger.Log(ctx, log.LevelInfo, "rabbitmq connected",
		log.String("queue", client.config.QueueName),
	)

	return nil
}

func (client *Client) setupLocked(connection *amqp.Connection) error {
	publishCh, err := connection.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}

	if err := publishCh.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	if err := declareTopology(publishCh, client.config.QueueName); err != nil {
		return err
	}

	consumeCh, err := connection.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}

	if err := consumeCh.Qos(client.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	consumerTag := "notify-" + client.config.QueueName

	deliveries, err := consumeCh.Consume(client.config.QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	client.connection = connection
	client.publishCh = publishCh
	client.consumeCh = consumeCh
	client.deliveries = deliveries
	client.consumerTag = consumerTag
	client.connected = true

	return nil
}

func declareTopology(channel *amqp.Channel, queueName string) error {
	dlqName := queueName + dlqSuffix
	waitName := queueName + waitSuffix

	if _, err := channel.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}

	// Rejected deliveries route to the DLQ through the default exchange.
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	}); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Messages parked in the wait queue expire into the destination.
	if _, err := channel.QueueDeclare(waitName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
	}); err != nil {
		return fmt.Errorf("declare wait queue: %w", err)
	}

	return nil
}

// Send publishes to the destination queue and waits for the broker confirm.
func (client *Client) Send(ctx context.Context, message *queue.Message) (string, error) {
	return client.publish(ctx, client.config.QueueName, message, 0)
}

// SendWithDelay parks the message in the wait queue with a per-message TTL;
// expiry dead-letters it into the destination.
func (client *Client) SendWithDelay(ctx context.Context, message *queue.Message, delay time.Duration) (string, error) {
	if delay <= 0 {
		return client.Send(ctx, message)
	}

	return client.publish(ctx, client.config.QueueName+waitSuffix, message, delay)
}

func (client *Client) publish(ctx context.Context, routingKey string, message *queue.Message, delay time.Duration) (string, error) {
	if message == nil || len(message.Body) == 0 {
		return "", queue.ErrMessageRequired
	}

	client.mu.Lock()
	channel := client.publishCh
	connected := client.connected
	client.mu.Unlock()

	if !connected || channel == nil {
		return "", ErrNotConnected
	}

	headers := amqp.Table{}
	for key, value := range message.Attributes {
		headers[key] = value
	}

	publishing := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    message.ID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         message.Body,
	}

	if delay > 0 {
		publishing.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, client.config.ConfirmTimeout)
	defer cancel()

	confirmation, err := channel.PublishWithDeferredConfirmWithContext(confirmCtx, "", routingKey, false, false, publishing)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	acked, err := confirmation.WaitContext(confirmCtx)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrConfirmTimeout, err.Error())
	}

	if !acked {
		return "", ErrPublishNacked
	}

	return message.ID, nil
}

// Receive collects up to max deliveries from the consumer stream, waiting up
// to wait for the first one.
func (client *Client) Receive(ctx context.Context, max int, wait time.Duration) ([]*queue.Delivery, error) {
	client.mu.Lock()
	deliveries := client.deliveries
	connected := client.connected
	client.mu.Unlock()

	if !connected || deliveries == nil {
		return nil, ErrNotConnected
	}

	if max <= 0 {
		max = 1
	}

	collected := make([]*queue.Delivery, 0, max)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for len(collected) < max {
		select {
		case <-ctx.Done():
			return collected, nil
		case <-timer.C:
			return collected, nil
		case delivery, ok := <-deliveries:
			if !ok {
				if len(collected) > 0 {
					return collected, nil
				}

				return nil, ErrNotConnected
			}

			collected = append(collected, client.track(delivery))

			// After the first delivery, drain whatever is already buffered
			// instead of waiting out the full window.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

			timer.Reset(50 * time.Millisecond)
		}
	}

	return collected, nil
}

func (client *Client) track(delivery amqp.Delivery) *queue.Delivery {
	receipt := strconv.FormatUint(delivery.DeliveryTag, 10)

	client.pendingMu.Lock()
	client.pending[receipt] = delivery
	client.pendingMu.Unlock()

	attributes := make(map[string]string, len(delivery.Headers))
	for key, value := range delivery.Headers {
		if text, ok := value.(string); ok {
			attributes[key] = text
		}
	}

	return &queue.Delivery{
		TransportID: delivery.MessageId,
		Receipt:     receipt,
		Body:        delivery.Body,
		Attributes:  attributes,
		Redelivered: delivery.Redelivered,
	}
}

// Ack removes a delivery from the queue.
func (client *Client) Ack(_ context.Context, receipt string) error {
	delivery, err := client.takePending(receipt)
	if err != nil {
		return err
	}

	if err := delivery.Ack(false); err != nil {
		return fmt.Errorf("ack delivery %s: %w", receipt, err)
	}

	return nil
}

// Nack returns a delivery to the broker. Without requeue it dead-letters.
func (client *Client) Nack(_ context.Context, receipt string, requeue bool) error {
	delivery, err := client.takePending(receipt)
	if err != nil {
		return err
	}

	if err := delivery.Nack(false, requeue); err != nil {
		return fmt.Errorf("nack delivery %s: %w", receipt, err)
	}

	return nil
}

func (client *Client) takePending(receipt string) (amqp.Delivery, error) {
	if receipt == "" {
		return amqp.Delivery{}, queue.ErrReceiptRequired
	}

	client.pendingMu.Lock()
	defer client.pendingMu.Unlock()

	delivery, ok := client.pending[receipt]
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("%w: %s", ErrUnknownReceipt, receipt)
	}

	delete(client.pending, receipt)

	return delivery, nil
}

// IsHealthy reports whether the broker connection and channels are open.
func (client *Client) IsHealthy(context.Context) bool {
	client.mu.Lock()
	defer client.mu.Unlock()

	return client.connected &&
		client.connection != nil && !client.connection.IsClosed() &&
		client.publishCh != nil && !client.publishCh.IsClosed()
}

// Close cancels the consumer and releases the connection.
func (client *Client) Close() error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if !client.connected {
		return nil
	}

	if client.consumeCh != nil && !client.consumeCh.IsClosed() {
		_ = client.consumeCh.Cancel(client.consumerTag, false)
		_ = client.consumeCh.Close()
	}

	if client.publishCh != nil && !client.publishCh.IsClosed() {
		_ = client.publishCh.Close()
	}

	var err error
	if client.connection != nil && !client.connection.IsClosed() {
		err = client.connection.Close()
	}

	client.connection = nil
	client.publishCh = nil
	client.consumeCh = nil
	client.deliveries = nil
	client.connected = false

	return err
}

// sanitizeAMQPErr strips credentials from errors that may echo the URI.
func sanitizeAMQPErr(err error, connectionString, prefix string) error {
	message := err.Error()

	if parsed, parseErr := url.Parse(connectionString); parseErr == nil && parsed.User != nil {
		if password, ok := parsed.User.Password(); ok && password != "" {
			message = strings.ReplaceAll(message, password, "[REDACTED]")
		}
	}

	return fmt.Errorf("%s: %s", prefix, message)
}
