package store

import "time"

// Status is the lifecycle of an entry's value.
type Status int

const (
	// StatusPending means no value has been produced yet.
	StatusPending Status = iota
	// StatusSuccess means the entry holds fetched or assigned data.
	StatusSuccess
	// StatusError means the last fetch failed.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// FetchStatus is the lifecycle of an entry's in-flight operation,
// orthogonal to Status: stale data can be success while fetching.
type FetchStatus int

const (
	// FetchIdle means no fetch is running.
	FetchIdle FetchStatus = iota
	// FetchFetching means a fetch is in flight.
	FetchFetching
	// FetchPaused means a fetch is wanted but gated off.
	FetchPaused
)

// String returns the fetch status name.
func (s FetchStatus) String() string {
	switch s {
	case FetchIdle:
		return "idle"
	case FetchFetching:
		return "fetching"
	case FetchPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Entry is the cached record for one canonical key.
//
// Entries are value types: the store hands out copies, and mutation goes
// through store methods that replace the whole entry. Data may hold
// pointers; treat the pointed-to value as immutable once stored.
type Entry struct {
	// Data is the raw cached value. Nil means absent.
	Data any

	// Err is the last fetch error. Nil means absent.
	Err error

	// Status is the value lifecycle.
	Status Status

	// FetchStatus is the in-flight operation lifecycle.
	FetchStatus FetchStatus

	// UpdatedAt is the time of the last successful fetch or data write.
	// The zero time means "never successfully fetched", even when Data
	// holds an initial seed.
	UpdatedAt time.Time

	// CacheTime is how long the entry survives with zero subscribers.
	CacheTime time.Duration

	// Subscribers counts active consumers. Never negative.
	Subscribers int
}

// HasData reports whether the entry holds a value.
func (e Entry) HasData() bool {
	return e.Data != nil
}
