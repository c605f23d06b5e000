// Package cache implements the in-memory response store: a byte-budget LRU
// keyed by RequestKey, plus a sidecar persistence format for dump/load (C5).
package cache

import (
	"container/list"
	"sync"

	"github.com/wudi/edgecache/internal/cacheobj"
)

// Config configures a Store's size accounting.
type Config struct {
	// MaxBytes is the eviction threshold. The Store applies no default: a
	// value <= 0 disables eviction. cmd/edgecache sets it to 70% of free
	// system memory via the memprobe collaborator.
	MaxBytes int64
}

type element struct {
	key   string
	entry *cacheobj.CachedEntry
}

// Store is a thread-safe LRU associating RequestKey to CachedEntry, evicting
// by byte cost rather than entry count.
type Store struct {
	mu        sync.Mutex
	maxBytes  int64
	usedBytes int64
	items     map[string]*list.Element
	order     *list.List

	hits      int64
	misses    int64
	evictions int64
}

// New creates an empty Store bounded by cfg.MaxBytes.
func New(cfg Config) *Store {
	return &Store{
		maxBytes: cfg.MaxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the entry for key and marks it most-recently-used, even if the
// entry is stale — staleness is meaningful only to the SWR engine, never to
// the store itself.
func (s *Store) Get(key string) (*cacheobj.CachedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}
	s.order.MoveToFront(elem)
	s.hits++
	return elem.Value.(*element).entry, true
}

// Set replaces any prior entry for key atomically and charges/refunds the
// store's byte budget, evicting least-recently-used entries until back under
// budget.
func (s *Store) Set(key string, entry *cacheobj.CachedEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		old := elem.Value.(*element).entry
		s.usedBytes -= int64(old.Size)
		elem.Value.(*element).entry = entry
		s.usedBytes += int64(entry.Size)
		s.order.MoveToFront(elem)
	} else {
		elem := s.order.PushFront(&element{key: key, entry: entry})
		s.items[key] = elem
		s.usedBytes += int64(entry.Size)
	}

	s.evictUntilWithinBudget()
}

// Delete removes key, if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		s.removeElement(elem)
	}
}

// Stats summarizes the store's occupancy and access counters.
type Stats struct {
	Entries   int
	UsedBytes int64
	MaxBytes  int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns a point-in-time snapshot of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:   s.order.Len(),
		UsedBytes: s.usedBytes,
		MaxBytes:  s.maxBytes,
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

// Dump returns every (key, entry) pair currently in the store, most-recently
// used first, for persistence.
func (s *Store) Dump() []DumpEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DumpEntry, 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		item := e.Value.(*element)
		out = append(out, DumpEntry{Key: item.key, Entry: item.entry})
	}
	return out
}

// DumpEntry pairs a key with its entry for persistence round-tripping.
type DumpEntry struct {
	Key   string
	Entry *cacheobj.CachedEntry
}

// Load replaces the store's contents with entries, MRU-first as produced by
// Dump, then trims to budget.
func (s *Store) Load(entries []DumpEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element, len(entries))
	s.order.Init()
	s.usedBytes = 0

	// entries is MRU-first (Dump's order); push back-to-front so the
	// resulting list preserves that ordering instead of reversing it.
	for i := len(entries) - 1; i >= 0; i-- {
		de := entries[i]
		elem := s.order.PushFront(&element{key: de.Key, entry: de.Entry})
		s.items[de.Key] = elem
		s.usedBytes += int64(de.Entry.Size)
	}

	s.evictUntilWithinBudget()
}

func (s *Store) evictUntilWithinBudget() {
	if s.maxBytes <= 0 {
		return
	}
	for s.usedBytes > s.maxBytes {
		elem := s.order.Back()
		if elem == nil {
			return
		}
		s.removeElement(elem)
		s.evictions++
	}
}

func (s *Store) removeElement(elem *list.Element) {
	item := elem.Value.(*element)
	s.usedBytes -= int64(item.entry.Size)
	s.order.Remove(elem)
	delete(s.items, item.key)
}
