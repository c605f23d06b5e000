// Package keyhash derives the cache's two key flavors — a URL-only key and a
// full request key — from xxh64 over a normalized, query-order-stable string (C2).
package keyhash

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// UniqueIDHeader is the per-client salt source for requestKey.
const UniqueIDHeader = "x-unique-id"

// normalize reassembles pathname + "?" + sortedQuery, sorting query pairs by
// name in ascending Unicode code-point order and keeping same-name values in
// their original relative order. The "?" is omitted when there is no query.
func normalize(pathname, rawQuery string) string {
	if rawQuery == "" {
		return pathname
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil || len(values) == 0 {
		return pathname
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(pathname)
	b.WriteByte('?')
	first := true
	for _, name := range names {
		for _, v := range values[name] {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// URLKey derives the "u:"-prefixed key for a URL, salted by an arbitrary
// client-supplied value. salt is prepended to the normalized string before
// hashing.
func URLKey(u *url.URL, salt string) string {
	normalized := normalize(u.Path, u.RawQuery)
	sum := xxhash.Sum64String(salt + normalized)
	return "u:" + strconv.FormatUint(sum, 16)
}

// RequestKey derives the "req:"-prefixed key for an inbound request. The
// x-unique-id header, if present, is appended to the normalized string
// before hashing — no host or scheme is included, so the same path served
// from different hosts/schemes shares a key.
func RequestKey(r *http.Request) string {
	normalized := normalize(r.URL.Path, r.URL.RawQuery)
	salt := r.Header.Get(UniqueIDHeader)
	sum := xxhash.Sum64String(normalized + salt)
	return "req:" + strconv.FormatUint(sum, 16)
}
