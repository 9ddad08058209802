// Package queue carries job-id wakeup notifications between the API and the
// workers. Postgres remains the queue of record: a worker that hears nothing
// still claims jobs on its poll interval, and a lost notification costs
// latency, never a job.
package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Notifier announces newly queued jobs.
type Notifier interface {
	JobQueued(ctx context.Context, jobID string) error
	Close() error
}

// NopNotifier is used when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) JobQueued(ctx context.Context, jobID string) error { return nil }
func (NopNotifier) Close() error                                      { return nil }

// RabbitNotifier publishes job ids to a topic exchange.
type RabbitNotifier struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitNotifier opens a channel and declares the exchange.
func NewRabbitNotifier(conn *amqp.Connection, exchange, routingKey string) (*RabbitNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, err
	}

	return &RabbitNotifier{channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (n *RabbitNotifier) JobQueued(ctx context.Context, jobID string) error {
	return n.channel.PublishWithContext(ctx,
		n.exchange,
		n.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(jobID),
		},
	)
}

func (n *RabbitNotifier) Close() error {
	return n.channel.Close()
}

var (
	_ Notifier = (*RabbitNotifier)(nil)
	_ Notifier = NopNotifier{}
)

// RabbitWaker consumes job-id notifications and exposes them as a channel the
// worker pool selects on next to its poll ticker.
type RabbitWaker struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
	queue      string
	logger     zerolog.Logger
}

// NewRabbitWaker binds a durable queue to the notification exchange.
func NewRabbitWaker(conn *amqp.Connection, exchange, routingKey, queue string, logger zerolog.Logger) (*RabbitWaker, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, err
	}

	return &RabbitWaker{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		queue:      queue,
		logger:     logger,
	}, nil
}

// Start consumes notifications until ctx is cancelled. The returned channel is
// buffered and drops are fine: it is a hint, not the queue.
func (w *RabbitWaker) Start(ctx context.Context) (<-chan string, error) {
	msgs, err := w.channel.Consume(
		w.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	wake := make(chan string, 64)
	go func() {
		defer close(wake)
		for {
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("queue: waker shutting down")
				return
			case msg, ok := <-msgs:
				if !ok {
					w.logger.Warn().Msg("queue: amqp channel closed")
					return
				}
				select {
				case wake <- string(msg.Body):
				default:
				}
				_ = msg.Ack(false)
			}
		}
	}()
	return wake, nil
}
