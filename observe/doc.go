// Package observe provides observability primitives for the query cache.
//
// It is a pure instrumentation library: no fetching, no storage, no I/O
// beyond exporter setup. The query client wires the observer into its
// fetch path; everything degrades to no-ops when disabled.
package observe
