// Package events is the notification fabric the index publishes to: a
// named-event bus and a leveled log service.
package events

import (
	"sync"

	"modidx/internal/notify"
)

// EventIndexUpdated is published after every successful scan with the
// added, changed and removed counts.
const EventIndexUpdated = "index.updated"

// Handler receives the payload of a published event.
type Handler func(name string, payload map[string]any)

// Bus delivers named events to their subscribers. Delivery is synchronous
// and fire-and-forget; publishing a name nobody listens to is not an error.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*notify.Registry[Handler]
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*notify.Registry[Handler])}
}

// Subscribe registers h for every name in names and returns a func that
// removes all of those subscriptions.
func (b *Bus) Subscribe(names []string, h Handler) func() {
	b.mu.Lock()
	removers := make([]func(), 0, len(names))
	for _, name := range names {
		reg, ok := b.subs[name]
		if !ok {
			reg = &notify.Registry[Handler]{}
			b.subs[name] = reg
		}
		removers = append(removers, reg.Add(h))
	}
	b.mu.Unlock()

	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

// Publish calls every subscriber of name with payload.
func (b *Bus) Publish(name string, payload map[string]any) {
	b.mu.Lock()
	reg, ok := b.subs[name]
	b.mu.Unlock()
	if !ok {
		return
	}

	for _, h := range reg.Snapshot() {
		h(name, payload)
	}
}
