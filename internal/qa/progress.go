package qa

import (
	"sync"
	"sync/atomic"
)

// Observer receives progress while segments are queried. Implementations
// must not assume calls arrive from a single goroutine.
type Observer interface {
	OnProgress(current, total int, message string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(current, total int, message string)

func (f ObserverFunc) OnProgress(current, total int, message string) { f(current, total, message) }

type progressEvent struct {
	current, total int
	message        string
}

// Notifier delivers progress to an Observer on its own goroutine. Events are
// dropped rather than queued when the observer falls behind, so a slow
// observer never stalls querying.
type Notifier struct {
	obs     Observer
	events  chan progressEvent
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// NewNotifier starts delivery to obs with the given buffer size.
func NewNotifier(obs Observer, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 16
	}
	n := &Notifier{
		obs:    obs,
		events: make(chan progressEvent, buffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(n.done)
		for ev := range n.events {
			n.obs.OnProgress(ev.current, ev.total, ev.message)
		}
	}()
	return n
}

// OnProgress enqueues an event without blocking.
func (n *Notifier) OnProgress(current, total int, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.events <- progressEvent{current, total, message}:
	default:
		n.dropped.Add(1)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.mu.Unlock()
	<-n.done
}

// Dropped reports how many events were discarded.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}
