package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDeadLetter receives messages rejected by any consumer.
const ExchangeDeadLetter = "dlx.events"

const maxReconnectDelay = time.Minute

// ErrUnavailable is returned while the broker connection is down.
var ErrUnavailable = errors.New("rabbitmq unavailable")

// RabbitMQ owns one connection and channel. When the connection drops it
// reconnects in the background, re-declares every exchange declared through
// it and notifies OnReconnect listeners so consumers can resume.
type RabbitMQ struct {
	config *config.RabbitMQConfig
	logger *logger.Logger

	mu           sync.RWMutex
	conn         *amqp.Connection
	channel      *amqp.Channel
	closed       bool
	reconnecting bool
	exchanges    map[string]struct{}
	deadLetterQ  string
	listeners    []func()
	done         chan struct{}
}

// New connects to RabbitMQ
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		config:    cfg,
		logger:    log.WithComponent("rabbitmq"),
		exchanges: make(map[string]struct{}),
		done:      make(chan struct{}),
	}

	if err := rmq.connect(); err != nil {
		return nil, err
	}
	go rmq.watch(rmq.conn.NotifyClose(make(chan *amqp.Error, 1)))

	return rmq, nil
}

// connect dials and opens the channel. Callers serialize access.
func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	r.conn, r.channel = conn, ch
	r.logger.Info().Msg("connected to RabbitMQ")
	return nil
}

// watch blocks until the connection closes. A close without an error is a
// deliberate Close and ends the watch.
func (r *RabbitMQ) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	r.logger.Error().Err(amqpErr).Msg("RabbitMQ connection lost")

	r.mu.Lock()
	r.reconnecting = true
	r.mu.Unlock()

	delay := r.config.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		select {
		case <-r.done:
			return
		case <-time.After(delay):
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		err := r.connect()
		if err == nil {
			r.reconnecting = false
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnection attempt failed")
			if delay *= 2; delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		break
	}

	if err := r.restoreTopology(); err != nil {
		r.logger.Error().Err(err).Msg("failed to restore topology after reconnect")
	}

	r.mu.RLock()
	conn := r.conn
	listeners := append([]func(){}, r.listeners...)
	r.mu.RUnlock()

	go r.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	for _, fn := range listeners {
		fn()
	}
}

func (r *RabbitMQ) restoreTopology() error {
	r.mu.RLock()
	names := make([]string, 0, len(r.exchanges))
	for name := range r.exchanges {
		names = append(names, name)
	}
	dlq := r.deadLetterQ
	r.mu.RUnlock()

	for _, name := range names {
		if err := r.declareExchange(name); err != nil {
			return err
		}
	}
	if dlq != "" {
		return r.declareDeadLetter(dlq)
	}
	return nil
}

// OnReconnect registers fn to run after every successful reconnect
func (r *RabbitMQ) OnReconnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Channel returns the current channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close closes the RabbitMQ connection and stops reconnecting
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.done)

	if r.channel != nil && !r.channel.IsClosed() {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}

	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health returns the health status of RabbitMQ
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case r.reconnecting:
		return map[string]string{"status": "down", "error": "reconnecting"}
	case r.conn == nil || r.conn.IsClosed():
		return map[string]string{"status": "down", "error": "connection closed"}
	}
	return map[string]string{"status": "up"}
}

// DeclareExchange declares a durable topic exchange. It is re-declared
// automatically after a reconnect.
func (r *RabbitMQ) DeclareExchange(name string) error {
	if err := r.declareExchange(name); err != nil {
		return err
	}
	r.mu.Lock()
	r.exchanges[name] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) declareExchange(name string) error {
	ch := r.Channel()
	if ch == nil {
		return ErrUnavailable
	}
	return ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
}

// DeclareQueue declares a durable queue that dead-letters into ExchangeDeadLetter
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	ch := r.Channel()
	if ch == nil {
		return amqp.Queue{}, ErrUnavailable
	}
	return ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange": ExchangeDeadLetter,
		},
	)
}

// DeclareDeadLetterQueue declares the dead letter exchange and a catch-all
// queue named dlq.<serviceName>
func (r *RabbitMQ) DeclareDeadLetterQueue(serviceName string) error {
	queueName := "dlq." + serviceName
	if err := r.declareDeadLetter(queueName); err != nil {
		return err
	}
	r.mu.Lock()
	r.deadLetterQ = queueName
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) declareDeadLetter(queueName string) error {
	if err := r.declareExchange(ExchangeDeadLetter); err != nil {
		return fmt.Errorf("failed to declare DLX exchange: %w", err)
	}

	ch := r.Channel()
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(queueName, "#", ExchangeDeadLetter, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	return nil
}

// BindQueue binds a queue to an exchange with a routing key pattern
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	ch := r.Channel()
	if ch == nil {
		return ErrUnavailable
	}
	return ch.QueueBind(queueName, routingKey, exchange, false, nil)
}
