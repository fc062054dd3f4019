// Package key provides canonical query keys for the cache.
//
// A Key is a closed structural value (text, number, bool, null, ordered
// sequence, or mapping) with a deterministic canonical string form, stable
// for equal keys regardless of mapping property order. Canonical forms
// support hierarchical prefix grouping.
package key
