package cache

import (
	"net/http"
	"testing"

	"github.com/wudi/edgecache/internal/cacheobj"
)

func TestPersisterDumpLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := New(Config{MaxBytes: 1 << 20})
	entry := &cacheobj.CachedEntry{
		Status: 200,
		Header: http.Header{"Content-Encoding": {"gzip"}, "Content-Type": {"text/plain"}},
		Body:   []byte("hello sidecar"),
	}
	entry.Size = len(entry.Body)
	s.Set("req:abc", entry)

	p := NewPersister(s, dir)
	if err := p.Dump(); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	s2 := New(Config{MaxBytes: 1 << 20})
	p2 := NewPersister(s2, dir)
	if err := p2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := s2.Get("req:abc")
	if !ok {
		t.Fatal("expected entry to survive persistence round trip")
	}
	if string(got.Body) != "hello sidecar" {
		t.Errorf("Body = %q, want %q", got.Body, "hello sidecar")
	}
	if got.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", got.Header.Get("Content-Encoding"))
	}
	if got.Status != 200 {
		t.Errorf("Status = %d, want 200", got.Status)
	}
}

func TestPersisterLoadMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{MaxBytes: 1 << 20})
	p := NewPersister(s, dir)
	if err := p.Load(); err != nil {
		t.Fatalf("Load with no prior dump should not error, got %v", err)
	}
}

func TestPersisterMultipleEntriesFraming(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{MaxBytes: 1 << 20})

	for _, kv := range []struct{ key, body string }{
		{"a", "short"},
		{"b", "a much longer body to make sure length framing is respected"},
		{"c", ""},
	} {
		e := &cacheobj.CachedEntry{Status: 200, Header: http.Header{}, Body: []byte(kv.body)}
		e.Size = len(e.Body)
		s.Set(kv.key, e)
	}

	p := NewPersister(s, dir)
	if err := p.Dump(); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	s2 := New(Config{MaxBytes: 1 << 20})
	if err := NewPersister(s2, dir).Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, kv := range []struct{ key, body string }{
		{"a", "short"},
		{"b", "a much longer body to make sure length framing is respected"},
		{"c", ""},
	} {
		got, ok := s2.Get(kv.key)
		if !ok {
			t.Fatalf("expected key %q to survive round trip", kv.key)
		}
		if string(got.Body) != kv.body {
			t.Errorf("key %q body = %q, want %q", kv.key, got.Body, kv.body)
		}
	}
}
