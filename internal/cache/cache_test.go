package cache

import (
	"net/http"
	"testing"

	"github.com/wudi/edgecache/internal/cacheobj"
)

func entryOfSize(n int) *cacheobj.CachedEntry {
	e := &cacheobj.CachedEntry{Status: 200, Header: http.Header{}, Body: make([]byte, n)}
	e.Size = n
	return e
}

func TestGetSetRoundTrip(t *testing.T) {
	s := New(Config{MaxBytes: 1024})
	s.Set("req:1", entryOfSize(10))

	got, ok := s.Get("req:1")
	if !ok {
		t.Fatal("expected a hit")
	}
	if got.Size != 10 {
		t.Errorf("Size = %d, want 10", got.Size)
	}
}

func TestGetMissing(t *testing.T) {
	s := New(Config{MaxBytes: 1024})
	if _, ok := s.Get("nope"); ok {
		t.Fatal("expected a miss")
	}
}

func TestDelete(t *testing.T) {
	s := New(Config{MaxBytes: 1024})
	s.Set("req:1", entryOfSize(10))
	s.Delete("req:1")
	if _, ok := s.Get("req:1"); ok {
		t.Fatal("expected entry to be gone after Delete")
	}
}

func TestEvictsLeastRecentlyUsedByByteBudget(t *testing.T) {
	s := New(Config{MaxBytes: 25})
	s.Set("a", entryOfSize(10))
	s.Set("b", entryOfSize(10))
	// Touch "a" so "b" becomes the LRU victim.
	s.Get("a")
	s.Set("c", entryOfSize(10))

	if _, ok := s.Get("b"); ok {
		t.Error("expected b to be evicted as least-recently-used")
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("expected a to survive eviction (recently touched)")
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestGetMarksMostRecentlyUsedEvenIfStale(t *testing.T) {
	s := New(Config{MaxBytes: 20})
	s.Set("a", entryOfSize(10))
	s.Set("b", entryOfSize(10))

	// "a" is now LRU. Reading it should promote it even though the store
	// has no notion of "stale" — that distinction belongs to the SWR engine.
	s.Get("a")
	s.Set("c", entryOfSize(10))

	if _, ok := s.Get("b"); ok {
		t.Error("expected b, not a, to be evicted after a was read")
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	s := New(Config{MaxBytes: 1024})
	s.Set("a", entryOfSize(10))
	s.Set("b", entryOfSize(10))

	dumped := s.Dump()

	s2 := New(Config{MaxBytes: 1024})
	s2.Load(dumped)

	if _, ok := s2.Get("a"); !ok {
		t.Error("expected a to survive dump/load")
	}
	if _, ok := s2.Get("b"); !ok {
		t.Error("expected b to survive dump/load")
	}
}

func TestStats(t *testing.T) {
	s := New(Config{MaxBytes: 1024})
	s.Set("a", entryOfSize(10))
	s.Get("a")
	s.Get("missing")

	stats := s.Stats()
	if stats.Entries != 1 {
		t.Errorf("Entries = %d, want 1", stats.Entries)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Hits=%d Misses=%d, want 1,1", stats.Hits, stats.Misses)
	}
}
