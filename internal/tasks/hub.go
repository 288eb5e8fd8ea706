package tasks

import (
	"log"
	"sync"

	"podpulse/internal/models"
)

// subscriberBuffer bounds each stream's outbound queue. A full buffer means
// the stream is too slow; the event is dropped and the next resync corrects
// the drift.
const subscriberBuffer = 32

// Subscriber is one open stream's view of a user's task events. Read from C
// until it is closed by Unsubscribe.
type Subscriber struct {
	C      chan models.Envelope
	userID int64
}

// Hub fans task-state changes out to every open stream for the owning user.
// Delivery is best-effort: sends never block the registry write that
// triggered them.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[*Subscriber]struct{})}
}

// Subscribe registers a new stream for a user.
func (h *Hub) Subscribe(userID int64) *Subscriber {
	sub := &Subscriber{
		C:      make(chan models.Envelope, subscriberBuffer),
		userID: userID,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a stream and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.C)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
}

// Publish sends one changed record to every stream for userID. A stream
// whose buffer is full skips the event.
func (h *Hub) Publish(userID int64, rec *models.TaskRecord) {
	env := models.Envelope{Event: models.EventUpdate, Task: rec}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[userID] {
		select {
		case sub.C <- env:
		default:
			log.Printf("task hub: slow stream for user %d, update for task %s dropped", userID, rec.TaskID)
		}
	}
}

// SubscriberCount reports the number of open streams for a user.
func (h *Hub) SubscriberCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
