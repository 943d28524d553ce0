// Package notify provides the hub for broadcasting player events to
// subscribers.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/20Josy07/harmonia/internal/app/player"
)

// Notification is a player event stamped with a monotonically increasing
// sequence number, so subscribers can detect gaps after a dropped send.
type Notification struct {
	SequenceNo uint64
	Event      player.Event
}

// subscription represents a subscriber's buffered delivery channel.
type subscription struct {
	id string
	ch chan Notification
}

// Hub fans player events out to subscribers. Sends never block: a
// subscriber that falls behind loses notifications and can detect the gap
// from the sequence numbers.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a subscriber and returns its ID and delivery channel.
func (h *Hub) Subscribe() (string, <-chan Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	sub := &subscription{
		id: id,
		ch: make(chan Notification, 16),
	}
	h.subscriptions[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(subscriptionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscriptions[subscriptionID]
	if !ok {
		return
	}
	delete(h.subscriptions, subscriptionID)
	close(sub.ch)
}

// Broadcast stamps the event with the next sequence number and delivers it
// to every subscriber without blocking.
func (h *Hub) Broadcast(ev player.Event) {
	h.sequenceNoMu.Lock()
	h.sequenceNo++
	n := Notification{SequenceNo: h.sequenceNo, Event: ev}
	h.sequenceNoMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscriptions {
		select {
		case sub.ch <- n:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Close removes all subscriptions, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscriptions {
		delete(h.subscriptions, id)
		close(sub.ch)
	}
}
