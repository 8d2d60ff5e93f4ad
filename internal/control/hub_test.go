package control

import (
	"testing"

	"github.com/MrWong99/callpilot/internal/status"
)

func TestHub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.Publish(status.Event{Type: status.EventStatus})
	if ev := <-a; ev.Type != status.EventStatus {
		t.Errorf("a got %+v", ev)
	}
	if ev := <-b; ev.Type != status.EventStatus {
		t.Errorf("b got %+v", ev)
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Error("channel not closed after cancel")
	}
	if got := h.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	h := NewHub()
	_, cancel := h.Subscribe()
	defer cancel()

	for range subscriberBuffer + 5 {
		h.Publish(status.Event{Type: status.EventRecord})
	}
	if got := h.Dropped(); got != 5 {
		t.Errorf("Dropped = %d, want 5", got)
	}
}
