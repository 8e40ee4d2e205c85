// Package eventbus provides the in-process publish/subscribe channel that
// connects the gateway's inbound event stream to the dispatcher and the
// prompt correlator.
package eventbus

import (
	"log/slog"
	"sync"
)

// Handler receives the payload published for an event name.
type Handler func(payload any)

// Subscription identifies a single registered handler so it can be removed.
type Subscription struct {
	event string
	id    uint64
}

type entry struct {
	id uint64
	fn Handler
}

// Bus is an in-memory event bus. Delivery for a single event name is
// synchronous and in registration order. A panicking subscriber does not
// prevent delivery to the remaining subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]entry
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]entry)}
}

// Subscribe registers fn for the given event name and returns a handle
// for Unsubscribe.
func (b *Bus) Subscribe(event string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[event] = append(b.subs[event], entry{id: b.nextID, fn: fn})
	return &Subscription{event: event, id: b.nextID}
}

// Unsubscribe removes exactly one subscription. Calling it again for the
// same handle is a no-op, including from inside a handler that is currently
// being dispatched.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.subs[sub.event]
	for i, e := range entries {
		if e.id == sub.id {
			b.subs[sub.event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to every subscriber currently registered for the
// event name. Handlers run on the caller's goroutine; the subscriber list is
// snapshotted first, so subscribing or unsubscribing from inside a handler
// never corrupts the iteration.
func (b *Bus) Publish(event string, payload any) {
	b.mu.Lock()
	entries := make([]entry, len(b.subs[event]))
	copy(entries, b.subs[event])
	b.mu.Unlock()

	for _, e := range entries {
		b.deliver(event, e, payload)
	}
}

func (b *Bus) deliver(event string, e entry, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event", event, "panic", r)
		}
	}()
	e.fn(payload)
}
