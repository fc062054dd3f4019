// Package store provides the authoritative cache of query entries.
//
// It maps canonical keys to entries, tracks per-entry subscriber counts
// with deferred eviction timers, and fans out add/update/remove events to
// registered listeners. All mutation replaces entries wholesale under one
// lock; events fire after the lock is released.
package store
