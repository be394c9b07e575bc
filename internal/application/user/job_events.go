package user

import (
	"sync"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
)

const subscriberBuffer = 64

// eventHub fans job events out to subscribers. Sends never block the job;
// a slow subscriber misses intermediate progress but its channel is always
// closed once the job settles.
type eventHub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.JobEvent]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[string]map[chan domain.JobEvent]struct{})}
}

// subscribe registers a channel primed with the job's current state.
func (h *eventHub) subscribe(current domain.JobEvent) (<-chan domain.JobEvent, func()) {
	jobID := current.JobID
	ch := make(chan domain.JobEvent, subscriberBuffer)
	ch <- current

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan domain.JobEvent]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[jobID][ch]; ok {
			delete(h.subs[jobID], ch)
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
			close(ch)
		}
	}
}

func (h *eventHub) publish(ev domain.JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
		if ev.Final() {
			close(ch)
		}
	}
	if ev.Final() {
		delete(h.subs, ev.JobID)
	}
}

// closedWith returns an already closed channel holding ev.
func closedWith(ev domain.JobEvent) <-chan domain.JobEvent {
	ch := make(chan domain.JobEvent, 1)
	ch <- ev
	close(ch)
	return ch
}
