package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"bloodlink/internal/repository"
)

type Event string

const (
	EventNewMatch         Event = "new_match"
	EventCascadeMatch     Event = "cascade_match"
	EventNoCandidates     Event = "no_candidates_found"
	EventRequestAccepted  Event = "request_accepted"
	EventRequestRejected  Event = "request_rejected"
	EventCascadeFailed    Event = "cascade_failed"
	EventDonationStarted  Event = "donation_started"
	EventDonationComplete Event = "donation_completed"
)

// Notifier pushes an event at a user. Delivery is best-effort; the returned
// flag only says whether anything took the message.
type Notifier interface {
	Notify(targetID string, event Event, payload map[string]interface{}) bool
}

// Message is what a registered listener receives on its channel.
type Message struct {
	Event   Event
	Payload map[string]interface{}
}

// Hub owns the user-id to channel registry. Connection layers register a
// channel per connected user and unregister on disconnect.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]chan Message
	buffer   int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		channels: make(map[string]chan Message),
		buffer:   buffer,
	}
}

// Register returns the channel future notifications for userID arrive on.
// Registering again replaces the previous channel.
func (h *Hub) Register(userID string) <-chan Message {
	ch := make(chan Message, h.buffer)
	h.mu.Lock()
	if old, ok := h.channels[userID]; ok {
		close(old)
	}
	h.channels[userID] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unregister(userID string) {
	h.mu.Lock()
	if ch, ok := h.channels[userID]; ok {
		close(ch)
		delete(h.channels, userID)
	}
	h.mu.Unlock()
}

func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	_, ok := h.channels[userID]
	h.mu.RUnlock()
	return ok
}

func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Notify is non-blocking: a full or missing channel drops the message.
func (h *Hub) Notify(targetID string, event Event, payload map[string]interface{}) bool {
	h.mu.RLock()
	ch, ok := h.channels[targetID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- Message{Event: event, Payload: payload}:
		return true
	default:
		log.Printf("Notification channel full for user %s, dropping %s", targetID, event)
		return false
	}
}

// OutboxNotifier queues notifications durably; the relay publishes them to
// Kafka later. Enqueue failures are logged, never propagated, so a store
// hiccup cannot block a state transition.
type OutboxNotifier struct {
	outbox repository.NotificationOutbox
}

func NewOutboxNotifier(outbox repository.NotificationOutbox) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox}
}

func (n *OutboxNotifier) Notify(targetID string, event Event, payload map[string]interface{}) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling notification payload for %s: %v", targetID, err)
		return false
	}
	if err := n.outbox.Enqueue(context.Background(), targetID, string(event), body); err != nil {
		log.Printf("Error enqueueing notification for %s: %v", targetID, err)
		return false
	}
	return true
}

// Fanout delivers through every notifier and reports true if any took it.
type Fanout []Notifier

func (f Fanout) Notify(targetID string, event Event, payload map[string]interface{}) bool {
	delivered := false
	for _, n := range f {
		if n.Notify(targetID, event, payload) {
			delivered = true
		}
	}
	return delivered
}
