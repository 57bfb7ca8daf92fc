package bridge

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published on /api/events.
const (
	EventConnected          = "connected"
	EventWindowMinimize     = "window.minimize"
	EventWindowClose        = "window.close"
	EventCompletionStarted  = "completion.started"
	EventCompletionFinished = "completion.finished"
)

// Event is a single Server-Sent Event payload.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Hub fans events out to SSE subscribers. Each subscriber has a buffered
// queue drained by its own connection; a full queue drops the event for that
// subscriber only.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Subscriber]struct{}
	closed  bool
}

// Subscriber is one attached UI.
type Subscriber struct {
	send chan []byte
	done chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Subscriber]struct{}),
	}
}

// Subscribe attaches a new subscriber. After Close the returned subscriber
// is already done.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.done)
		return sub
	}
	h.clients[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.done)
	}
}

// Close detaches every subscriber so their streams end.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.done)
	}
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues event for every subscriber and returns how many accepted it.
func (h *Hub) Broadcast(event *Event) int {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.clients {
		select {
		case sub.send <- data:
			delivered++
		default:
		}
	}
	return delivered
}

// Events returns the subscriber's queue of encoded events.
func (s *Subscriber) Events() <-chan []byte { return s.send }

// Done is closed when the subscriber is detached.
func (s *Subscriber) Done() <-chan struct{} { return s.done }
