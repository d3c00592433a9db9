package eventbus

import (
	"testing"
	"time"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()

	bus.Publish(&Event{Type: "state_changed", State: "IDLE"})

	select {
	case got := <-ch:
		if got.Type != "state_changed" {
			t.Fatalf("unexpected event type: %s", got.Type)
		}
		if got.ID == "" {
			t.Fatal("expected event id to be filled in")
		}
		if got.Time.IsZero() {
			t.Fatal("expected event time to be filled in")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("did not receive event")
	}

	bus.Unsubscribe(ch)
}

func TestDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()

	// Fill channel to capacity (64) without reading.
	for i := 0; i < 64; i++ {
		bus.Publish(&Event{Type: "params_update_scheduled"})
	}

	done := make(chan struct{})
	go func() {
		// This publish should be dropped and return immediately.
		bus.Publish(&Event{Type: "overflow"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("publish blocked on full channel")
	}

	bus.Unsubscribe(ch)
}

func TestMultipleSubscribers(t *testing.T) {
	bus := New()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(&Event{Type: "login_started"})

	for _, ch := range []chan *Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != "login_started" {
				t.Fatalf("unexpected type: %s", got.Type)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("subscriber did not receive event")
		}
	}

	bus.Unsubscribe(ch1)
	bus.Unsubscribe(ch2)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()

	bus.Unsubscribe(ch)

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
