// Package kv is the persistence seam for the synchronization layer: an
// asynchronous key-value store with change notifications, mirroring what the
// extension storage API provides. Values are opaque bytes; callers own the
// encoding.
package kv

import (
	"context"
	"sync"
)

// Event describes one key change. OldValue is nil for a fresh key, NewValue
// is nil for a removal.
type Event struct {
	Key      string
	OldValue []byte
	NewValue []byte
}

// Store is an async key-value store with change notifications.
// Get returns (nil, nil) on a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// Subscribe registers a change listener and returns its unsubscribe
	// handle. Listeners are invoked synchronously after the write applies.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// notifier implements the listener bookkeeping shared by backends.
type notifier struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Event)
}

func (n *notifier) Subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners == nil {
		n.listeners = make(map[int]func(Event))
	}
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

func (n *notifier) publish(ev Event) {
	n.mu.Lock()
	fns := make([]func(Event), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
