// Package reqmemo memoizes per-request derived values — presently the
// pipeline's requestKey — so they are computed at most once per request
// regardless of how many pipeline stages ask for them (C3).
package reqmemo

import (
	"net/http"
	"sync"
)

// Table memoizes values keyed by the identity of the *http.Request that
// produced them, not by any value derived from the request. Entries must be
// released explicitly via Release when the request completes; the table
// does not expire entries on its own.
type Table struct {
	mu      sync.Mutex
	entries map[*http.Request]map[string]any
}

// New creates an empty memo table.
func New() *Table {
	return &Table{entries: make(map[*http.Request]map[string]any)}
}

// Get returns fn(r)'s memoized result for request r under key, computing and
// storing it on first call. Concurrent calls for the same (r, key) may both
// compute fn; the table favors simplicity over single-flight semantics since
// a single request is handled by a single goroutine chain in this pipeline.
func (t *Table) Get(r *http.Request, key string, fn func() any) any {
	t.mu.Lock()
	scope, ok := t.entries[r]
	if !ok {
		scope = make(map[string]any)
		t.entries[r] = scope
	}
	if v, ok := scope[key]; ok {
		t.mu.Unlock()
		return v
	}
	t.mu.Unlock()

	v := fn()

	t.mu.Lock()
	scope[key] = v
	t.mu.Unlock()
	return v
}

// Release discards all memoized values for r. The pipeline calls this once
// per request, in a deferred position, so the table never grows unbounded.
func (t *Table) Release(r *http.Request) {
	t.mu.Lock()
	delete(t.entries, r)
	t.mu.Unlock()
}
