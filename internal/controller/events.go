package controller

import "sync"

// eventSubscriptionBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind loses intermediate transitions; the terminal
// status is re-observable via Status.
const eventSubscriptionBuffer = 16

// eventHub fans job status changes out to subscribers. It keeps the core
// free of any dependency on a particular UI transport.
type eventHub struct {
	mu   sync.Mutex
	subs map[*EventSubscription]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[*EventSubscription]struct{})}
}

func (h *eventHub) subscribe() *EventSubscription {
	sub := &EventSubscription{
		hub: h,
		ch:  make(chan Status, eventSubscriptionBuffer),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

func (h *eventHub) publish(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- s:
		default:
			// Slow subscriber; drop rather than stall the controller.
		}
	}
}

// EventSubscription delivers job status changes in order of occurrence.
type EventSubscription struct {
	hub  *eventHub
	ch   chan Status
	once sync.Once
}

// C returns the channel of status changes.
func (s *EventSubscription) C() <-chan Status {
	return s.ch
}

// Close cancels the subscription.
func (s *EventSubscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()

		close(s.ch)
	})
}
