package receipt

import (
	"log/slog"
	"sync"
)

// EventType distinguishes the messages on the progress stream
type EventType string

const (
	EventFile EventType = "file"
	EventRun  EventType = "run"
)

// Event is one message on the progress stream
type Event struct {
	Type    EventType   `json:"type"`
	File    *QueuedFile `json:"file,omitempty"`
	Running *bool       `json:"running,omitempty"`
}

func fileEvent(qf QueuedFile) Event {
	return Event{Type: EventFile, File: &qf}
}

func runEvent(running bool) Event {
	return Event{Type: EventRun, Running: &running}
}

// subscriberBuffer is the number of events a slow subscriber may lag behind
const subscriberBuffer = 64

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (sub *subscriber) close() {
	sub.once.Do(func() { close(sub.ch) })
}

// Hub fans events out to every subscriber.
// Publish never blocks. A subscriber whose buffer is full is dropped and its
// channel closed, so it never silently misses an update.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber. Call the returned func to unsubscribe;
// it closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
		sub.close()
	}
}

// Publish delivers e to every subscriber and evicts the ones that cannot keep up
func (h *Hub) Publish(e Event) {
	var lagging []*subscriber
	h.mu.RLock()
	for sub := range h.subscribers {
		select {
		case sub.ch <- e:
		default:
			lagging = append(lagging, sub)
		}
	}
	h.mu.RUnlock()

	if len(lagging) == 0 {
		return
	}

	// Closing under the write lock guarantees no Publish is sending to the channel
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range lagging {
		if _, ok := h.subscribers[sub]; !ok {
			continue
		}
		delete(h.subscribers, sub)
		sub.close()
		slog.Warn("Dropped slow event subscriber", "type", e.Type)
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
