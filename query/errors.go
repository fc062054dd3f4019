package query

import "errors"

var (
	// ErrNilClient is returned when an operation is given a nil Client.
	ErrNilClient = errors.New("query: nil client")

	// ErrNilFetcher is returned when Execute is given a nil fetcher.
	ErrNilFetcher = errors.New("query: nil fetcher")

	// ErrClosed is returned when an operation runs against a closed
	// client or handle.
	ErrClosed = errors.New("query: client closed")

	// ErrExhausted wraps the final fetcher error once every retry
	// attempt has been spent. errors.Is matches both ErrExhausted and
	// the underlying cause.
	ErrExhausted = errors.New("query: retries exhausted")
)
