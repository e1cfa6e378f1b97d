// Package stream fans domain events out to notification subscribers. The
// core does not know how or whether delivery succeeds; a slow subscriber
// drops events rather than blocking a transition.
package stream

import (
	"context"
	"sync"
	"time"
)

// Kind names a domain event.
type Kind string

const (
	AccountRegistered Kind = "account.registered"
	AccountDecided    Kind = "account.decided"
	AccountBlocked    Kind = "account.blocked"
	AccountUnblocked  Kind = "account.unblocked"
	AccountRoleChange Kind = "account.role_changed"
	PassIssued        Kind = "pass.issued"
	PassUsed          Kind = "pass.used"
	PassCancelled     Kind = "pass.cancelled"
)

// Event is what a NotificationGateway subscriber receives after a transition
// commits.
type Event struct {
	Kind      Kind      `json:"kind"`
	AccountID string    `json:"account_id,omitempty"`
	PassID    string    `json:"pass_id,omitempty"`
	CarNumber string    `json:"car_number,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fan-outs events to all active subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
