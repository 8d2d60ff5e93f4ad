package control

import (
	"sync"

	"github.com/MrWong99/callpilot/internal/status"
)

// subscriberBuffer is the number of events queued per live-feed client
// before events for that client are dropped.
const subscriberBuffer = 64

// Hub fans session events out to live-feed subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan status.Event]struct{}
	dropped int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan status.Event]struct{})}
}

// Publish delivers ev to every subscriber.
func (h *Hub) Publish(ev status.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan status.Event, func()) {
	ch := make(chan status.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many events were dropped for slow subscribers.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
