package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and queue names
const (
	ExchangeFraudScores = "fraud.scores"

	QueueFraudEvents = "fraud.events"
)

// ScorePublisher delivers FraudScores to the output sink
type ScorePublisher interface {
	Publish(ctx context.Context, score *FraudScore) error
	Close() error
}

// RabbitMQPublisher implements ScorePublisher for RabbitMQ
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger

	mu       sync.RWMutex
	closed   bool
	confirms chan amqp.Confirmation
}

// PublisherConfig for RabbitMQ connection
type PublisherConfig struct {
	URL            string
	PublishTimeout time.Duration
	EnableConfirms bool
}

// DefaultPublisherConfig returns sensible defaults
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:            url,
		PublishTimeout: 5 * time.Second,
		EnableConfirms: true,
	}
}

// NewRabbitMQPublisher creates new RabbitMQ score publisher
func NewRabbitMQPublisher(cfg PublisherConfig, logger *slog.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		ExchangeFraudScores,
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", ExchangeFraudScores, err)
	}

	p := &RabbitMQPublisher{
		conn:    conn,
		channel: channel,
		logger:  logger,
	}

	// Enable publisher confirms
	if cfg.EnableConfirms {
		if err := channel.Confirm(false); err != nil {
			return nil, fmt.Errorf("failed to enable confirms: %w", err)
		}
		p.confirms = channel.NotifyPublish(make(chan amqp.Confirmation, 100))
	}

	logger.Info("RabbitMQ publisher initialized")

	return p, nil
}

// Publish sends a FraudScore routed by user id so that per-key ordering is
// preserved on the wire.
func (p *RabbitMQPublisher) Publish(ctx context.Context, score *FraudScore) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	body, err := score.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    score.Timestamp,
		ContentType:  "application/json",
		MessageId:    uuid.New().String(),
		Type:         "fraud.score",
		Body:         body,
	}

	err = p.channel.PublishWithContext(
		ctx,
		ExchangeFraudScores,
		score.UserID, // routing key = partition key
		false,        // mandatory
		false,        // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	// Wait for confirm if enabled
	if p.confirms != nil {
		select {
		case confirm := <-p.confirms:
			if !confirm.Ack {
				return fmt.Errorf("message not acknowledged")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.logger.Debug("score published",
		"event_id", score.EventID,
		"user_id", score.UserID,
		"action", score.Action,
	)

	return nil
}

// Close closes the connection
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RawHandler processes one serialized FraudEvent record. A nil return acks
// the delivery; a non-nil return requeues it.
type RawHandler func(ctx context.Context, body []byte) error

// RabbitMQConsumer feeds serialized FraudEvents from a queue into a handler
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	queue   string
}

// ConsumerConfig for consumer
type ConsumerConfig struct {
	URL           string
	Queue         string
	PrefetchCount int
}

// NewRabbitMQConsumer creates new consumer
func NewRabbitMQConsumer(cfg ConsumerConfig, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Set prefetch
	if cfg.PrefetchCount > 0 {
		err = channel.Qos(cfg.PrefetchCount, 0, false)
		if err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	queue := cfg.Queue
	if queue == "" {
		queue = QueueFraudEvents
	}

	_, err = channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &RabbitMQConsumer{
		conn:    conn,
		channel: channel,
		logger:  logger,
		queue:   queue,
	}, nil
}

// Start begins consuming messages and dispatching them to handler
func (c *RabbitMQConsumer) Start(ctx context.Context, handler RawHandler) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", c.queue, err)
	}

	go c.processMessages(ctx, handler, msgs)

	return nil
}

func (c *RabbitMQConsumer) processMessages(ctx context.Context, handler RawHandler, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("channel closed", "queue", c.queue)
				return
			}

			if err := handler(ctx, msg.Body); err != nil {
				c.logger.Error("failed to process delivery",
					"queue", c.queue,
					"error", err,
				)
				msg.Nack(false, true) // requeue
				continue
			}

			msg.Ack(false)
		}
	}
}

// Stop stops the consumer
func (c *RabbitMQConsumer) Stop() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
