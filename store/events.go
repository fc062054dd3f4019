package store

import "sync"

// EventType identifies a store change.
type EventType int

const (
	// EventAdded fires when a key first appears.
	EventAdded EventType = iota
	// EventUpdated fires when an existing entry is replaced, invalidated,
	// or its subscriber count changes.
	EventUpdated
	// EventRemoved fires when an entry is removed or evicted.
	EventRemoved
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes one store change. Entry is a snapshot taken at publish
// time; for removals it is the entry's final state.
type Event struct {
	Type  EventType
	Hash  string
	Entry Entry
}

// bus fans out events to registered listeners. Listeners are registered
// into a sequenced table and removed by the closure returned from
// subscribe.
type bus struct {
	mu        sync.RWMutex
	listeners map[int64]func(Event)
	next      int64
}

// subscribe registers fn and returns its unsubscribe closure. Unsubscribe
// is idempotent. A publish already in flight may still invoke fn once
// after unsubscribe returns.
func (b *bus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	if b.listeners == nil {
		b.listeners = make(map[int64]func(Event))
	}
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// publish invokes every registered listener with e. The listener table is
// snapshotted first, so listeners may subscribe, unsubscribe, or re-enter
// the store without deadlocking.
func (b *bus) publish(e Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
