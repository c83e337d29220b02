// Package watch is an in-process change notification hub.
//
// Writers call Publish(topic) after a write commits. Readers hold a Listener
// whose channel receives a signal when something on the topic changed. The
// signal carries no data: the reader re-reads the current state. Signals
// coalesce, so a burst of writes wakes a slow reader once, and Publish never
// blocks on a reader.
package watch

import "sync"

// Hub tracks listeners per topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Listener]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Listener]struct{})}
}

// Listener receives change signals for one topic until Close is called.
type Listener struct {
	hub   *Hub
	topic string
	c     chan struct{}
	once  sync.Once
}

// C fires at least once after every Publish on the listener's topic.
func (l *Listener) C() <-chan struct{} {
	return l.c
}

// Close detaches the listener. It is safe to call more than once.
func (l *Listener) Close() {
	l.once.Do(func() {
		l.hub.remove(l)
	})
}

// Subscribe registers a listener on topic.
func (h *Hub) Subscribe(topic string) *Listener {
	l := &Listener{
		hub:   h,
		topic: topic,
		c:     make(chan struct{}, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Listener]struct{})
		h.topics[topic] = set
	}
	set[l] = struct{}{}
	return l
}

// Publish signals every listener on topic.
func (h *Hub) Publish(topic string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for l := range h.topics[topic] {
		select {
		case l.c <- struct{}{}:
		default:
			// a signal is already pending
		}
	}
}

// Count returns the number of listeners on topic.
func (h *Hub) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) remove(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.topics[l.topic]
	delete(set, l)
	if len(set) == 0 {
		delete(h.topics, l.topic)
	}
}
