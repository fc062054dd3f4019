// Package mutation provides a one-shot write helper alongside the query
// cache: no caching, no deduplication, just a small observable state
// machine around a single function call with optional retries and the
// client's telemetry and global callbacks.
package mutation
