package transfer

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Transfer is a started upload as seen by its single subscriber.
type Transfer interface {
	ID() string
	// Events yields progress events and then one terminal event, and is closed afterwards.
	Events() <-chan Event
	// Cancel stops event delivery and aborts the request. It is a no-op once the stream has ended.
	Cancel()
	// Done is closed when the underlying request has returned.
	Done() <-chan struct{}
}

type handle struct {
	id      string
	events  chan Event
	done    chan struct{}
	cancel  context.CancelFunc
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

func newHandle(id string, buffer int, limiter *rate.Limiter, cancel context.CancelFunc) *handle {
	if buffer < 2 {
		buffer = 2
	}
	return &handle{
		id:      id,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		cancel:  cancel,
		limiter: limiter,
	}
}

func (h *handle) ID() string            { return h.id }
func (h *handle) Events() <-chan Event  { return h.events }
func (h *handle) Done() <-chan struct{} { return h.done }

// progress never blocks. Events are dropped when throttled or when only the slot
// reserved for the terminal event is left.
func (h *handle) progress(ratio float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if ratio < 1 && !h.limiter.Allow() {
		return
	}
	if len(h.events) >= cap(h.events)-1 {
		return
	}
	h.events <- Event{Kind: KindProgress, Ratio: ratio}
}

// finish delivers the terminal event and closes the stream, at most once.
func (h *handle) finish(ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.closed = true
	h.events <- ev
	close(h.events)
	return true
}

func (h *handle) Cancel() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.events)
	h.mu.Unlock()

	h.cancel()
}
