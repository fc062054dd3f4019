package store

import (
	"sort"
	"sync"
	"time"

	"github.com/Slincnik/querycache/key"
)

// Store is the authoritative mapping from canonical key to Entry.
//
// Contract:
// - Concurrency: safe for concurrent use; all mutation replaces entries
//   wholesale under one lock.
// - Events fire after the lock is released, so listeners may re-enter the
//   store. Listeners wanting the latest state should re-read via Get
//   rather than trust a possibly reordered event snapshot.
// - Mutating an absent key (Update, Invalidate, UpdateSubscribers) is a
//   silent no-op: callers may race with eviction.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	evictions map[string]*pendingEviction
	bus       bus
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:   make(map[string]Entry),
		evictions: make(map[string]*pendingEviction),
	}
}

// Get returns a snapshot of the entry for hash.
func (s *Store) Get(hash string) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[hash]
	s.mu.RUnlock()
	return e, ok
}

// Set replaces the entry for hash wholesale. Fires added if the key was
// previously absent, else updated.
func (s *Store) Set(hash string, e Entry) {
	s.mu.Lock()
	_, existed := s.entries[hash]
	s.entries[hash] = e
	s.mu.Unlock()

	typ := EventAdded
	if existed {
		typ = EventUpdated
	}
	s.bus.publish(Event{Type: typ, Hash: hash, Entry: e})
}

// Ensure returns the entry for hash, creating it with init when absent.
// The check and create happen under one lock, so two concurrent callers
// get the same entry and init runs at most once. Reports whether this
// call created the entry; creation fires added.
func (s *Store) Ensure(hash string, init func() Entry) (Entry, bool) {
	s.mu.Lock()
	if e, ok := s.entries[hash]; ok {
		s.mu.Unlock()
		return e, false
	}
	e := init()
	s.entries[hash] = e
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventAdded, Hash: hash, Entry: e})
	return e, true
}

// Remove deletes the entry for hash, cancelling any pending eviction
// timer, and fires removed. No-op if absent.
func (s *Store) Remove(hash string) {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.cancelEvictionLocked(hash)
	delete(s.entries, hash)
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventRemoved, Hash: hash, Entry: e})
}

// Update applies fn to the entry's current data, re-derives Status
// (success if the result is present, else pending), clears any stale
// error, and stamps UpdatedAt. No-op if absent.
func (s *Store) Update(hash string, fn func(old any) any) {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.Data = fn(e.Data)
	e.Err = nil
	if e.HasData() {
		e.Status = StatusSuccess
	} else {
		e.Status = StatusPending
	}
	e.UpdatedAt = time.Now()
	s.entries[hash] = e
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventUpdated, Hash: hash, Entry: e})
}

// Apply replaces the entry for hash with fn's result in one
// read-modify-write and fires updated. Unlike Update it derives nothing:
// fn is responsible for keeping Status, FetchStatus, and timestamps
// coherent. No-op if absent.
func (s *Store) Apply(hash string, fn func(Entry) Entry) {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return
	}
	e = fn(e)
	s.entries[hash] = e
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventUpdated, Hash: hash, Entry: e})
}

// Invalidate zeroes the entry's UpdatedAt without touching data, marking
// the value stale while still present. No-op if absent.
func (s *Store) Invalidate(hash string) {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.UpdatedAt = time.Time{}
	s.entries[hash] = e
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventUpdated, Hash: hash, Entry: e})
}

// InvalidateGroup invalidates every entry whose canonical key is a member
// of the group rooted at the given canonical key. Returns the number of
// entries invalidated.
func (s *Store) InvalidateGroup(group string) int {
	s.mu.Lock()
	updated := make([]Event, 0)
	for hash, e := range s.entries {
		if !key.Member(hash, group) {
			continue
		}
		e.UpdatedAt = time.Time{}
		s.entries[hash] = e
		updated = append(updated, Event{Type: EventUpdated, Hash: hash, Entry: e})
	}
	s.mu.Unlock()

	for _, ev := range updated {
		s.bus.publish(ev)
	}
	return len(updated)
}

// Clear cancels every pending eviction timer and removes every entry,
// firing removed per entry. Used for full teardown.
func (s *Store) Clear() {
	s.mu.Lock()
	removed := make([]Event, 0, len(s.entries))
	for hash, p := range s.evictions {
		p.timer.Stop()
		delete(s.evictions, hash)
	}
	for hash, e := range s.entries {
		removed = append(removed, Event{Type: EventRemoved, Hash: hash, Entry: e})
	}
	s.entries = make(map[string]Entry)
	s.mu.Unlock()

	for _, ev := range removed {
		s.bus.publish(ev)
	}
}

// Subscribe registers a listener for store events and returns its
// unsubscribe closure.
func (s *Store) Subscribe(fn func(Event)) func() {
	return s.bus.subscribe(fn)
}

// Keys returns every canonical key, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for hash := range s.entries {
		keys = append(keys, hash)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// GroupKeys returns every canonical key belonging to the group rooted at
// the given canonical key, sorted.
func (s *Store) GroupKeys(group string) []string {
	s.mu.RLock()
	keys := make([]string, 0)
	for hash := range s.entries {
		if key.Member(hash, group) {
			keys = append(keys, hash)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every entry keyed by canonical key.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	out := make(map[string]Entry, len(s.entries))
	for hash, e := range s.entries {
		out[hash] = e
	}
	s.mu.RUnlock()
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	return n
}

// Stats is an inspection snapshot of the store.
type Stats struct {
	// Entries is the total entry count.
	Entries int
	// Subscribed is the count of entries with at least one subscriber.
	Subscribed int
	// PendingEvictions is the count of armed eviction timers.
	PendingEvictions int
}

// Stats returns current store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	st := Stats{
		Entries:          len(s.entries),
		PendingEvictions: len(s.evictions),
	}
	for _, e := range s.entries {
		if e.Subscribers > 0 {
			st.Subscribed++
		}
	}
	s.mu.RUnlock()
	return st
}
