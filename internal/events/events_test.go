package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventReservationConfirmed, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventReservationConfirmed, ReservationEventPayload{ReservationID: "r-1", Status: "confirmed"})
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != EventReservationConfirmed {
		t.Errorf("expected type %s, got %s", EventReservationConfirmed, received.Type)
	}
	if received.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	var decoded ReservationEventPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.ReservationID != "r-1" {
		t.Errorf("expected reservation r-1, got %s", decoded.ReservationID)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var order []string

	bus.Subscribe("event", func(_ *Event) error { order = append(order, "first"); return errors.New("first failed") })
	bus.Subscribe("event", func(_ *Event) error { order = append(order, "second"); return nil })
	bus.Subscribe("other", func(_ *Event) error { order = append(order, "other"); return nil })

	err := bus.PublishJSON("event", nil)
	if err == nil || err.Error() != "first failed" {
		t.Errorf("expected joined handler error, got %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("unexpected handler order %v", order)
	}
}

func TestEventBusNil(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON("event", map[string]string{}); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
}

func TestPublishJSONMarshalError(t *testing.T) {
	bus := NewEventBus()
	if err := bus.PublishJSON("event", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}
