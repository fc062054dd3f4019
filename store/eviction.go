package store

import "time"

// pendingEviction is an armed eviction timer. The pointer doubles as the
// timer's identity: a fired callback only evicts if it is still the
// current timer for its key, so a reschedule or cancel that races with
// firing always wins.
type pendingEviction struct {
	timer *time.Timer
}

// UpdateSubscribers sets the entry's subscriber count (floored at zero)
// and notifies listeners. No-op if the entry is absent.
//
// A count of zero schedules eviction after ttl, replacing any previously
// scheduled eviction for that key; the later call wins and restarts the
// wait from zero. A positive count cancels any pending eviction. When ttl
// is not positive the entry's own CacheTime is used; if that is also not
// positive the entry is evicted immediately.
func (s *Store) UpdateSubscribers(hash string, count int, ttl time.Duration) {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return
	}
	if count < 0 {
		count = 0
	}
	e.Subscribers = count
	s.entries[hash] = e

	if count == 0 {
		s.scheduleEvictionLocked(hash, e, ttl)
	} else {
		s.cancelEvictionLocked(hash)
	}
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventUpdated, Hash: hash, Entry: e})
}

// AdjustSubscribers adds delta to the entry's subscriber count in one
// read-modify-write, with the same eviction behavior as
// UpdateSubscribers. Returns the new count, or zero if the entry is
// absent.
func (s *Store) AdjustSubscribers(hash string, delta int, ttl time.Duration) int {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	count := e.Subscribers + delta
	if count < 0 {
		count = 0
	}
	e.Subscribers = count
	s.entries[hash] = e

	if count == 0 {
		s.scheduleEvictionLocked(hash, e, ttl)
	} else {
		s.cancelEvictionLocked(hash)
	}
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventUpdated, Hash: hash, Entry: e})
	return count
}

// scheduleEvictionLocked arms the eviction timer for hash, replacing any
// existing one. Caller holds s.mu.
func (s *Store) scheduleEvictionLocked(hash string, e Entry, ttl time.Duration) {
	s.cancelEvictionLocked(hash)

	if ttl <= 0 {
		ttl = e.CacheTime
	}
	p := &pendingEviction{}
	p.timer = time.AfterFunc(ttl, func() { s.evict(hash, p) })
	s.evictions[hash] = p
}

// cancelEvictionLocked disarms any pending eviction timer for hash.
// Caller holds s.mu.
func (s *Store) cancelEvictionLocked(hash string) {
	if p, ok := s.evictions[hash]; ok {
		p.timer.Stop()
		delete(s.evictions, hash)
	}
}

// evict removes hash if p is still its current timer and no subscriber
// arrived since scheduling. Runs on the timer goroutine.
func (s *Store) evict(hash string, p *pendingEviction) {
	s.mu.Lock()
	cur, ok := s.evictions[hash]
	if !ok || cur != p {
		// Cancelled or rescheduled after this timer fired.
		s.mu.Unlock()
		return
	}
	delete(s.evictions, hash)

	e, exists := s.entries[hash]
	if !exists || e.Subscribers > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.entries, hash)
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventRemoved, Hash: hash, Entry: e})
}
