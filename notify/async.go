package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ecoride/carpool-engine/carpool"
)

// ErrQueueFull is returned by Async.Notify when the buffer has no room. The
// event is dropped.
var ErrQueueFull = errors.New("notify: queue full")

// ErrClosed is returned by Async.Notify after Close.
var ErrClosed = errors.New("notify: closed")

// Async hands events to a background goroutine so a slow or unreachable
// broker never holds up the request that produced the event. Delivery errors
// are logged, not returned.
type Async struct {
	next   carpool.Notifier
	logger *slog.Logger
	queue  chan carpool.Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the delivery goroutine. buffer is the number of events that
// can wait for delivery; values below 1 are raised to 1.
func NewAsync(next carpool.Notifier, buffer int, logger *slog.Logger) *Async {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		logger: logger,
		queue:  make(chan carpool.Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues e without blocking.
func (a *Async) Notify(_ context.Context, e carpool.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		// The request context is gone by now.
		if err := a.next.Notify(context.Background(), e); err != nil {
			a.logger.Warn("event delivery failed", "event", e.Type, "error", err)
		}
	}
}

// Close stops accepting events and waits until the queued ones were handed
// to the wrapped notifier.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
