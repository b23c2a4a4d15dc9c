package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPForwarder republishes bus events as persistent JSON messages on a
// durable queue.
type AMQPForwarder struct {
	conn   *amqp.Connection
	ch     amqpChannel
	queue  string
	logger *zerolog.Logger
	mu     sync.Mutex
}

func NewAMQPForwarder(url, queue string, logger *zerolog.Logger) (*AMQPForwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	f, err := newForwarder(ch, queue, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	f.conn = conn
	return f, nil
}

func newForwarder(ch amqpChannel, queue string, logger *zerolog.Logger) (*AMQPForwarder, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	l := logger.With().Str("component", "amqp_forwarder").Str("queue", queue).Logger()
	return &AMQPForwarder{ch: ch, queue: queue, logger: &l}, nil
}

// Register subscribes the forwarder to every reservation event on bus.
func (f *AMQPForwarder) Register(bus *EventBus) {
	for _, t := range ReservationEvents {
		bus.Subscribe(t, f.Handle)
	}
}

func (f *AMQPForwarder) Handle(event *Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         event.Type,
		Timestamp:    event.CreatedAt.UTC(),
		Body:         event.Payload,
	}

	f.mu.Lock()
	err := f.ch.PublishWithContext(ctx, "", f.queue, false, false, msg)
	f.mu.Unlock()
	if err != nil {
		f.logger.Error().Err(err).Str("event", event.Type).Msg("Failed to forward event")
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	f.logger.Debug().Str("event", event.Type).Msg("Event forwarded")
	return nil
}

func (f *AMQPForwarder) Close() error {
	var err error
	if f.ch != nil {
		err = f.ch.Close()
	}
	if f.conn != nil {
		if cerr := f.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
