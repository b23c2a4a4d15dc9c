package events

import (
	"context"
	"errors"
	"io"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	declareErr error
	publishErr error
	closed     bool
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	if durable {
		c.declared = append(c.declared, name)
	}
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPForwarder(t *testing.T) {
	logger := zerolog.New(io.Discard)

	t.Run("ForwardsLifecycleEvents", func(t *testing.T) {
		ch := &fakeChannel{}
		f, err := newForwarder(ch, "reservation.events", &logger)
		require.NoError(t, err)
		assert.Equal(t, []string{"reservation.events"}, ch.declared)

		bus := NewEventBus()
		f.Register(bus)

		require.NoError(t, bus.PublishJSON(EventReservationCreated, ReservationEventPayload{ReservationID: "r-1"}))
		require.NoError(t, bus.PublishJSON(EventReservationDenied, ReservationEventPayload{ReservationID: "r-1"}))
		require.NoError(t, bus.PublishJSON("unrelated", nil))

		require.Len(t, ch.published, 2)
		assert.Equal(t, []string{"reservation.events", "reservation.events"}, ch.keys)
		assert.Equal(t, EventReservationCreated, ch.published[0].Type)
		assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
		assert.Equal(t, "application/json", ch.published[0].ContentType)
		assert.JSONEq(t, `{"reservation_id":"r-1","date":"","start_time":"","end_time":"","course":"","name":"","price":0,"status":"","occurred_at":"0001-01-01T00:00:00Z"}`,
			string(ch.published[0].Body))

		require.NoError(t, f.Close())
		assert.True(t, ch.closed)
	})

	t.Run("PublishFailureSurfaces", func(t *testing.T) {
		ch := &fakeChannel{publishErr: errors.New("channel closed")}
		f, err := newForwarder(ch, "q", &logger)
		require.NoError(t, err)

		err = f.Handle(&Event{Type: EventReservationConfirmed, Payload: []byte(`{}`)})
		assert.Error(t, err)
	})

	t.Run("DeclareFailure", func(t *testing.T) {
		_, err := newForwarder(&fakeChannel{declareErr: errors.New("access refused")}, "q", &logger)
		assert.Error(t, err)
	})
}
