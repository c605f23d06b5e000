// Package cacheobj implements the cacheable-object model: normalizing a
// route handler's result into a CachedEntry at the store's canonical
// encoding, and transcoding a stored entry to whatever encoding a later
// request actually accepts (C6).
package cacheobj

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/wudi/edgecache/internal/codec"
	cacheerrors "github.com/wudi/edgecache/internal/errors"
	"github.com/wudi/edgecache/internal/router"
)

// CachedEntry is the unit stored in the cache store (C5).
type CachedEntry struct {
	Status int
	Header http.Header
	Body   []byte
	Size   int
}

// sizeOf is the byte-cost charged against the store's budget: body plus a
// rough accounting of header bytes, so large header sets aren't free.
func sizeOf(e *CachedEntry) int {
	n := len(e.Body)
	for name, values := range e.Header {
		for _, v := range values {
			n += len(name) + len(v) + 2
		}
	}
	return n
}

// preferredEncoding picks the first encoding in preference order that also
// appears in acceptable. acceptable defaults to "all non-identity encodings"
// when empty, matching toCacheable's canonical-compressed-by-default rule.
func preferredEncoding(pool *codec.Pool, acceptable []codec.Encoding) codec.Encoding {
	accept := func(e codec.Encoding) bool {
		if len(acceptable) == 0 {
			return e != codec.Identity
		}
		for _, a := range acceptable {
			if a == e {
				return true
			}
		}
		return false
	}
	for _, e := range pool.PreferredEncodings() {
		if accept(e) {
			return e
		}
	}
	return codec.Identity
}

// ToCacheable normalizes a handler's result into a CachedEntry at the store's
// canonical encoding (the first of [br, gzip, deflate, identity] present in
// acceptable).
func ToCacheable(result *router.HandlerResult, acceptable []codec.Encoding, pool *codec.Pool) (*CachedEntry, error) {
	storeEncoding := preferredEncoding(pool, acceptable)

	var body []byte
	header := http.Header{}
	status := http.StatusOK

	switch v := result.JSON.(type) {
	case string:
		// A bare string result is rendered as plain text, not a JSON-quoted string.
		body = []byte(v)
		header.Set("Content-Type", "text/plain")
	case nil:
		switch {
		case result.Body != nil || result.Header != nil || result.StatusCode != 0:
			for name, values := range result.Header {
				for _, vv := range values {
					header.Add(name, vv)
				}
			}
			current := codec.ParseEncoding(header.Get("Content-Encoding"))
			header.Del("Content-Encoding")
			header.Del("Content-Length")
			decoded, err := pool.Decompress(result.Body, current)
			if err != nil {
				return nil, err
			}
			body = decoded
			if result.StatusCode != 0 {
				status = result.StatusCode
			}
		default:
			header.Set("Content-Type", "text/plain")
		}
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, cacheerrors.Wrap(err, http.StatusInternalServerError, "json encode failed")
		}
		body = encoded
		header.Set("Content-Type", "application/json")
	}

	compressed, err := pool.Compress(body, storeEncoding)
	if err != nil {
		return nil, err
	}

	header.Set("Content-Encoding", string(storeEncoding))
	header.Set("Content-Length", strconv.Itoa(len(compressed)))

	entry := &CachedEntry{Status: status, Header: header, Body: compressed}
	entry.Size = sizeOf(entry)
	return entry, nil
}

// Transcode re-encodes entry to the preferred encoding in acceptable, leaving
// the original entry untouched. When entry is already in that encoding it is
// returned as-is; otherwise the return value is a fresh copy.
func Transcode(entry *CachedEntry, acceptable []codec.Encoding, pool *codec.Pool) (*CachedEntry, error) {
	target := preferredEncoding(pool, acceptable)
	current := codec.ParseEncoding(entry.Header.Get("Content-Encoding"))
	if target == current {
		return entry, nil
	}

	decoded, err := pool.Decompress(entry.Body, current)
	if err != nil {
		return nil, err
	}
	recoded, err := pool.Compress(decoded, target)
	if err != nil {
		return nil, cacheerrors.NewEncodingUnavailable([]string{string(target)})
	}

	header := entry.Header.Clone()
	header.Set("Content-Encoding", string(target))
	header.Set("Content-Length", strconv.Itoa(len(recoded)))

	cp := &CachedEntry{Status: entry.Status, Header: header, Body: recoded}
	cp.Size = sizeOf(cp)
	return cp, nil
}

// Store is the subset of the cache store that StoreWithTimestamp needs.
type Store interface {
	Set(key string, entry *CachedEntry)
}

// StoreWithTimestamp stamps x-cache-date with the current UTC time and
// writes the entry to store.
func StoreWithTimestamp(store Store, key string, entry *CachedEntry) {
	entry.Header.Set("X-Cache-Date", time.Now().UTC().Format(time.RFC3339))
	store.Set(key, entry)
}
