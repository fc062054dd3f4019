package query

import (
	"time"

	"github.com/Slincnik/querycache/store"
)

const (
	// DefaultCacheTime keeps unsubscribed entries for five minutes
	// before eviction.
	DefaultCacheTime = 5 * time.Minute

	// DefaultRetry retries a failed fetch three times after the first
	// attempt.
	DefaultRetry = 3

	// DefaultRetryDelay is the pause between retry attempts.
	DefaultRetryDelay = time.Second

	// StaleTimeNever marks fetched data as fresh forever.
	StaleTimeNever time.Duration = -1

	// RetryNone disables retries entirely.
	RetryNone = -1
)

// Options tune a single Execute call. The zero value inherits the
// client's defaults: zero StaleTime keeps data always stale, zero
// CacheTime means DefaultCacheTime, zero Retry means DefaultRetry, and
// zero RetryDelay means DefaultRetryDelay. Negative values are explicit:
// StaleTimeNever, RetryNone, and a negative CacheTime evicts the entry as
// soon as its last subscriber leaves.
type Options[T any] struct {
	// Disabled gates automatic fetching. A disabled handle still
	// subscribes to its entry and serves cached data; only manual
	// operations such as Refetch run the fetcher.
	Disabled bool

	// InitialData seeds the entry when this handle creates it. Seeded
	// data arrives with a zero UpdatedAt, so it counts as stale and the
	// first fetch still runs unless StaleTime says otherwise.
	InitialData func() T

	// StaleTime is how long fetched data counts as fresh.
	StaleTime time.Duration

	// CacheTime is how long an entry outlives its last subscriber.
	CacheTime time.Duration

	// Retry is the number of additional attempts after a failed fetch.
	Retry int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration

	// Select projects raw entry data into the handle's view. It runs
	// locally; the store always holds the raw value.
	Select func(T) T

	// DisableKeyChangeRefetch stops SetKey from fetching the new key.
	DisableKeyChangeRefetch bool

	// KeepPreviousData serves the previous key's data from Data while
	// the new key has none of its own yet.
	KeepPreviousData bool

	// DisableCacheSync detaches the handle from store events. Writes by
	// other consumers become visible only through this handle's own
	// operations.
	DisableCacheSync bool

	// OnSuccess, OnError, and OnSettled fire on this handle for every
	// settled fetch it participates in, with the selected data.
	OnSuccess func(T)
	OnError   func(error)
	OnSettled func(T, error)
}

// resolveOptions fills zero fields from the client config, then from the
// package defaults. Negative sentinels pass through untouched.
func resolveOptions[T any](cfg Config, o Options[T]) Options[T] {
	if o.StaleTime == 0 {
		o.StaleTime = cfg.DefaultStaleTime
	}
	if o.CacheTime == 0 {
		o.CacheTime = cfg.DefaultCacheTime
	}
	if o.CacheTime == 0 {
		o.CacheTime = DefaultCacheTime
	}
	if o.Retry == 0 {
		o.Retry = cfg.DefaultRetry
	}
	if o.Retry == 0 {
		o.Retry = DefaultRetry
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = cfg.DefaultRetryDelay
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// isStale reports whether the entry's data needs refetching. Missing
// entries and entries without data are always stale, as is anything never
// stamped by a completed fetch. A zero staleTime keeps data always stale;
// a negative one keeps it fresh forever.
func isStale(e store.Entry, ok bool, staleTime time.Duration) bool {
	if !ok || !e.HasData() {
		return true
	}
	if e.UpdatedAt.IsZero() {
		return true
	}
	if staleTime == 0 {
		return true
	}
	if staleTime < 0 {
		return false
	}
	return time.Since(e.UpdatedAt) >= staleTime
}
