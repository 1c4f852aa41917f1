package invalidate

import (
	"sync"

	"github.com/eringen/draftdesk/document"
)

// Hub fans staleness out to mounted list views. Every subscription keeps its
// own pending flag until it acknowledges, so one view consuming a signal
// never hides it from another.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription is one mounted view's registration.
type Subscription struct {
	hub  *Hub
	tab  string
	View document.Status

	pending bool
	c       chan struct{}
}

// Subscribe registers a view of status view in tab.
func (h *Hub) Subscribe(tab string, view document.Status) *Subscription {
	s := &Subscription{hub: h, tab: tab, View: view, c: make(chan struct{}, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.c)
		return s
	}
	if h.subs[tab] == nil {
		h.subs[tab] = make(map[*Subscription]struct{})
	}
	h.subs[tab][s] = struct{}{}
	return s
}

// Publish flags every subscription of tab whose view bit is set in t.
func (h *Hub) Publish(tab string, t document.Triple) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[tab] {
		if !t.Has(s.View) {
			continue
		}
		s.pending = true
		select {
		case s.c <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions of tab.
func (h *Hub) Subscribers(tab string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[tab])
}

// Close closes every subscription channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for tab, subs := range h.subs {
		for s := range subs {
			close(s.c)
		}
		delete(h.subs, tab)
	}
}

// C receives a value when the subscription becomes pending. It is closed
// when the subscription or its hub is closed.
func (s *Subscription) C() <-chan struct{} { return s.c }

// Pending reports whether a publish arrived since the last Ack.
func (s *Subscription) Pending() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.pending
}

// Ack clears the pending flag and reports whether it was set.
func (s *Subscription) Ack() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	was := s.pending
	s.pending = false
	return was
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[s.tab]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.subs, s.tab)
	}
	close(s.c)
}
