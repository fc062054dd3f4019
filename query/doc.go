// Package query orchestrates cached data fetching over a shared store.
//
// It provides Execute for running a fetcher against a canonical key with
// staleness control, request deduplication, retries, and reference-counted
// eviction, plus a Client that owns the store, the in-flight registry, and
// the observability components shared by every handle.
package query
