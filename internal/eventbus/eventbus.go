// Package eventbus provides the pub/sub channel between the bridge core and
// anything observing it (the events WebSocket feed, tests).
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single bridge event. Every event carries a snapshot of the
// session state and stream id taken at emit time.
type Event struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	State    string         `json:"state"`
	StreamID string         `json:"stream_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Time     time.Time      `json:"time"`
}

// Bus is an in-memory pub/sub bus.
type Bus struct {
	mu   sync.RWMutex
	subs []chan *Event
}

// New creates a Bus with no subscribers.
func New() *Bus {
	return &Bus{}
}

// Subscribe creates a channel that receives every published event.
func (b *Bus) Subscribe() chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes a channel and closes it.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers. Missing ID and Time fields are
// filled in. Slow subscribers have events dropped rather than blocking the
// publisher.
func (b *Bus) Publish(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop event if subscriber is too slow.
		}
	}
}
