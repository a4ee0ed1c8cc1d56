// Package ioqueue implements the readiness-based I/O multiplexer the
// endpoint polls from its event loop.
//
// Go's runtime netpoller already multiplexes blocking reads efficiently,
// so rather than reimplement epoll/kqueue by hand this is a thin
// channel-based reactor: registered sources push a readiness event onto
// a shared channel when they have data, and Poll drains that channel
// with a timeout. This gives the endpoint the poll(timeout)->count
// contract §6 requires without duplicating what the goroutine scheduler
// already does.
package ioqueue

import "time"

// Event is a single readiness notification. Handler is invoked by Poll
// on the polling goroutine; it must not block.
type Event struct {
	Handler func()
}

// Multiplexer is the readiness-poll contract the endpoint's event loop
// depends on (§6: "I/O multiplexer: readiness-based, poll with timeout
// returns count >= 0 or negative for OS error").
type Multiplexer interface {
	// Poll waits up to timeout for at least one event and invokes the
	// handlers it takes. An implementation may take fewer than all ready
	// events in one call (Reactor takes one), so callers re-poll to
	// drain. Returns the number of handlers invoked, or -1 with err set
	// on an unrecoverable error.
	Poll(timeout time.Duration) (n int, err error)
	// Notify registers a readiness event to be delivered on the next Poll.
	// Safe to call concurrently with Poll from any goroutine (this is how
	// a transport's reader goroutine wakes the event loop).
	Notify(ev Event)
	// Close releases the multiplexer. Subsequent Notify calls are no-ops.
	Close() error
}

// Reactor is the reference Multiplexer implementation: a buffered
// channel of pending events drained by Poll.
type Reactor struct {
	events chan Event
	closed chan struct{}
}

// NewReactor returns a Reactor with the given pending-event capacity.
func NewReactor(capacity int) *Reactor {
	if capacity <= 0 {
		capacity = 64
	}
	return &Reactor{
		events: make(chan Event, capacity),
		closed: make(chan struct{}),
	}
}

func (r *Reactor) Notify(ev Event) {
	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.events <- ev:
	case <-r.closed:
	}
}

// Poll blocks up to timeout waiting for a single ready event and invokes
// its handler. It reports at most one event per call by design: the
// endpoint's event loop is what repeatedly re-polls with a zero timeout
// to drain a backlog, and it is the endpoint — not the multiplexer —
// that bounds that draining by PJSIP_MAX_NET_EVENTS (§4.3 step 4). A
// zero or negative timeout polls without blocking.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	if timeout <= 0 {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return 0, nil
			}
			if ev.Handler != nil {
				ev.Handler()
			}
			return 1, nil
		default:
			return 0, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev, ok := <-r.events:
		if !ok {
			return 0, nil
		}
		if ev.Handler != nil {
			ev.Handler()
		}
		return 1, nil
	case <-timer.C:
		return 0, nil
	case <-r.closed:
		return 0, nil
	}
}

func (r *Reactor) Close() error {
	select {
	case <-r.closed:
	default:
		close(r.closed)
	}
	return nil
}
