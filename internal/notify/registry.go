// Package notify provides a subscription registry whose Add returns an
// unsubscribe func, so repeated subscriptions never accumulate.
package notify

import (
	"sort"
	"sync"
)

// Registry holds subscribers of type T. It is safe for concurrent use.
type Registry[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]T
}

// Add registers sub and returns a func that removes it again.
// Calling the returned func more than once has no further effect.
func (r *Registry[T]) Add(sub T) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs == nil {
		r.subs = make(map[uint64]T)
	}
	r.nextID++
	id := r.nextID
	r.subs[id] = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Snapshot returns the current subscribers in registration order.
// Callers invoke them without holding the registry lock, so a subscriber
// may safely unsubscribe itself.
func (r *Registry[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = r.subs[id]
	}
	return out
}

// Len returns the number of current subscribers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
