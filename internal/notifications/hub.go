package notifications

import (
	"log/slog"
	"sync"
	"time"

	"shelf/internal/logging"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events rather than stalling the worker.
const subscriberBuffer = 64

// Hub fans progress events out to subscribers. Publishing never blocks.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]chan Event
	logger *slog.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[int64]chan Event),
		logger: logging.NewComponentLogger(logger, "progress"),
	}
}

// Subscribe registers a listener. The returned cancel function must be
// called to release the subscription; afterwards the channel is closed.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers event to every subscriber, stamping the event time if
// unset. Slow subscribers have the event dropped.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Debug("dropped progress event for slow subscriber",
				logging.String(logging.FieldEventType, string(event.Type)),
			)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscription and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
