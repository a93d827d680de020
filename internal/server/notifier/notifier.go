// Package notifier fans catalog change events out to subscribed listeners.
package notifier

import (
	"sync"
	"time"
)

// EventKind names what changed.
type EventKind string

// Event kinds.
const (
	EventReloaded     EventKind = "reloaded"
	EventReloadFailed EventKind = "reload_failed"
	EventVariant      EventKind = "variant"
)

// Event describes one catalog change.
type Event struct {
	Kind EventKind `json:"kind"`
	// ID is the variant the event is about, if any.
	ID    string    `json:"id,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Notifier broadcasts events to every subscriber. Each subscriber holds a
// small buffer; a subscriber that falls behind loses the oldest pending
// event rather than blocking the publisher.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan Event]struct{}
	now       func() time.Time
}

// Buffer is the number of events held per subscriber.
const Buffer = 8

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[chan Event]struct{}),
		now:       time.Now,
	}
}

// Subscribe returns a channel receiving future events. Callers must
// Unsubscribe when done.
func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, Buffer)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a listener channel.
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[ch]; !ok {
		return
	}
	delete(n.listeners, ch)
	close(ch)
}

// Subscribers returns the number of active listeners.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Publish stamps ev and delivers it to every listener without blocking.
func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = n.now().UTC()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.listeners {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Full: drop the oldest event to make room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
