package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// HeaderRetryCount counts how often a message has been handed back to its
// queue after a handler failure.
const HeaderRetryCount = "x-retry-count"

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

type binding struct {
	exchange   string
	routingKey string
}

// Consumer reads one queue and dispatches events by type. A failed event is
// republished to the back of the queue with an incremented retry header and
// dead-lettered once maxRetries is reached.
type Consumer struct {
	rmq         *RabbitMQ
	queueName   string
	bindings    []binding
	handlers    map[string]MessageHandler
	maxRetries  int
	republish   func(ctx context.Context, msg amqp.Delivery, attempt int) error
	reconnected chan struct{}
	logger      *logger.Logger
}

// NewConsumer declares queueName and returns a consumer for it
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	maxRetries := rmq.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	c := &Consumer{
		rmq:         rmq,
		queueName:   queueName,
		handlers:    make(map[string]MessageHandler),
		maxRetries:  maxRetries,
		reconnected: make(chan struct{}, 1),
		logger:      log.WithComponent("consumer"),
	}
	c.republish = c.publishRetry

	rmq.OnReconnect(func() {
		select {
		case c.reconnected <- struct{}{}:
		default:
		}
	})

	return c, nil
}

// Subscribe binds the queue to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	c.bindings = append(c.bindings, binding{exchange: exchange, routingKey: routingKeyPattern})

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start begins consuming in a background goroutine until ctx is done. After a
// broker reconnect the queue and its bindings are restored and consumption resumes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")
	go c.run(ctx, msgs)
	return nil
}

func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	ch := c.rmq.Channel()
	if ch == nil {
		return nil, ErrUnavailable
	}
	return ch.Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
}

func (c *Consumer) resume() (<-chan amqp.Delivery, error) {
	if _, err := c.rmq.DeclareQueue(c.queueName); err != nil {
		return nil, err
	}
	for _, b := range c.bindings {
		if err := c.rmq.BindQueue(c.queueName, b.exchange, b.routingKey); err != nil {
			return nil, err
		}
	}
	return c.consume()
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		if msgs == nil {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case <-c.reconnected:
			}

			var err error
			if msgs, err = c.resume(); err != nil {
				c.logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to resume consuming")
				msgs = nil
				continue
			}
			c.logger.Info().Str("queue", c.queueName).Msg("consumer resumed")
		}

		select {
		case <-ctx.Done():
			c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn().Str("queue", c.queueName).Msg("delivery channel closed, waiting for reconnect")
				msgs = nil
				continue
			}
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to unmarshal event")
		msg.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().
			Str("event_type", event.Type).
			Msg("no handler registered for event type")
		msg.Ack(false)
		return
	}

	c.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	err := safeHandle(ctx, handler, &event)
	if err == nil {
		msg.Ack(false)
		return
	}

	attempt := retryCount(msg) + 1
	log := c.logger.Error().
		Err(err).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Int("attempt", attempt)

	if attempt > c.maxRetries {
		log.Msg("max retries exceeded, sending to DLQ")
		msg.Reject(false)
		return
	}
	log.Msg("failed to process event, retrying")

	if rerr := c.republish(ctx, msg, attempt); rerr != nil {
		c.logger.Warn().Err(rerr).Str("event_id", event.ID).Msg("retry republish failed, requeueing")
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// publishRetry puts a copy of msg at the back of the consumer's own queue
func (c *Consumer) publishRetry(ctx context.Context, msg amqp.Delivery, attempt int) error {
	ch := c.rmq.Channel()
	if ch == nil {
		return ErrUnavailable
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(attempt)

	return ch.PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		AppId:         msg.AppId,
		Body:          msg.Body,
	})
}

func safeHandle(ctx context.Context, handler MessageHandler, event *Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, event)
}

// retryCount prefers the consumer's own retry header and falls back to the
// broker's x-death count for messages that went through a dead-letter cycle.
func retryCount(msg amqp.Delivery) int {
	if msg.Headers == nil {
		return 0
	}

	switch n := msg.Headers[HeaderRetryCount].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}

	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok {
		for _, death := range deaths {
			if d, ok := death.(amqp.Table); ok {
				if count, ok := d["count"].(int64); ok {
					return int(count)
				}
			}
		}
	}

	return 0
}
