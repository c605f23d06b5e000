package cacheobj

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/wudi/edgecache/internal/codec"
	"github.com/wudi/edgecache/internal/router"
)

func TestToCacheableResponseLikeResult(t *testing.T) {
	pool := codec.New()
	result := &router.HandlerResult{JSON: nil, Body: []byte("Hello, World!"), Header: http.Header{}, StatusCode: 200}

	entry, err := ToCacheable(result, nil, pool)
	if err != nil {
		t.Fatalf("ToCacheable: %v", err)
	}
	if entry.Header.Get("Content-Length") != strconv.Itoa(len(entry.Body)) {
		t.Errorf("Content-Length %q does not match body length %d", entry.Header.Get("Content-Length"), len(entry.Body))
	}
	if entry.Header.Get("Content-Encoding") == "" {
		t.Error("expected a content-encoding to be stamped")
	}
}

func TestToCacheableJSONStringResult(t *testing.T) {
	pool := codec.New()
	result := &router.HandlerResult{JSON: "plain text result"}

	entry, err := ToCacheable(result, []codec.Encoding{codec.Identity}, pool)
	if err != nil {
		t.Fatalf("ToCacheable: %v", err)
	}
	if got := entry.Header.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", got)
	}
	decoded, err := pool.Decompress(entry.Body, codec.ParseEncoding(entry.Header.Get("Content-Encoding")))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(decoded) != "plain text result" {
		t.Errorf("decoded body = %q, want the raw unquoted string", decoded)
	}
}

func TestToCacheableJSONResult(t *testing.T) {
	pool := codec.New()
	result := &router.HandlerResult{JSON: map[string]any{"ok": true}}

	entry, err := ToCacheable(result, nil, pool)
	if err != nil {
		t.Fatalf("ToCacheable: %v", err)
	}
	decoded, err := pool.Decompress(entry.Body, codec.ParseEncoding(entry.Header.Get("Content-Encoding")))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(decoded) != `{"ok":true}` {
		t.Errorf("decoded body = %q", decoded)
	}
}

func TestTranscodeNoopWhenAlreadyTargetEncoding(t *testing.T) {
	pool := codec.New()
	result := &router.HandlerResult{Body: []byte("payload"), Header: http.Header{}, StatusCode: 200}
	entry, err := ToCacheable(result, []codec.Encoding{codec.Identity}, pool)
	if err != nil {
		t.Fatalf("ToCacheable: %v", err)
	}

	transcoded, err := Transcode(entry, []codec.Encoding{codec.Identity}, pool)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if transcoded != entry {
		t.Error("Transcode should return the same entry when encoding already matches")
	}
}

func TestTranscodeRecompresses(t *testing.T) {
	pool := codec.New()
	result := &router.HandlerResult{Body: []byte("some body content to compress"), Header: http.Header{}, StatusCode: 200}
	entry, err := ToCacheable(result, []codec.Encoding{codec.Gzip}, pool)
	if err != nil {
		t.Fatalf("ToCacheable: %v", err)
	}

	transcoded, err := Transcode(entry, []codec.Encoding{codec.Deflate}, pool)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if transcoded.Header.Get("Content-Encoding") != string(codec.Deflate) {
		t.Errorf("Content-Encoding = %q, want deflate", transcoded.Header.Get("Content-Encoding"))
	}

	decoded, err := pool.Decompress(transcoded.Body, codec.Deflate)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(decoded) != "some body content to compress" {
		t.Errorf("decoded body = %q", decoded)
	}

	if entry.Header.Get("Content-Encoding") != string(codec.Gzip) {
		t.Error("Transcode mutated the original entry")
	}
}
