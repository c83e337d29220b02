package watch

import (
	"testing"
	"time"
)

func receive(t *testing.T, l *Listener) {
	t.Helper()
	select {
	case <-l.C():
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
}

func expectNone(t *testing.T, l *Listener) {
	t.Helper()
	select {
	case <-l.C():
		t.Fatal("unexpected change signal")
	default:
	}
}

func TestPublish_SignalsOnlyMatchingTopic(t *testing.T) {
	h := NewHub()
	msgs := h.Subscribe("messages")
	other := h.Subscribe("profile/abc")

	h.Publish("messages")

	receive(t, msgs)
	expectNone(t, other)
}

func TestPublish_Coalesces(t *testing.T) {
	h := NewHub()
	l := h.Subscribe("messages")

	for i := 0; i < 10; i++ {
		h.Publish("messages")
	}

	receive(t, l)
	expectNone(t, l)
}

func TestClose_StopsSignals(t *testing.T) {
	h := NewHub()
	l := h.Subscribe("messages")

	l.Close()
	l.Close() // second close is a no-op
	h.Publish("messages")

	expectNone(t, l)
	if got := h.Count("messages"); got != 0 {
		t.Errorf("Count() after Close = %d, want 0", got)
	}
}

func TestPublish_NoListeners(t *testing.T) {
	h := NewHub()
	h.Publish("nobody-listens") // must not block or panic
}
