// Package router compiles path patterns with `:name` and `:name?` segments
// into matchers, matches requests against them in reverse insertion order
// (later-declared routes win), and reconstructs URLs from patterns (C4).
package router

import (
	"net/http"
	"strings"

	cacheerrors "github.com/wudi/edgecache/internal/errors"
)

// HandlerResult is the normalized output of a RouteSpec's handler: either a
// raw HTTP response or a structured JSON value, left to C6 to fold into a
// CachedEntry.
type HandlerResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	JSON       any
}

// HandlerFunc produces a HandlerResult for a matched request and its
// extracted path parameters.
type HandlerFunc func(r *http.Request, params map[string]string) (*HandlerResult, error)

// Spec is an immutable-after-compile route: a path pattern, its cacheability,
// and its handler. Reverse-proxy routes carry a Handler that performs the
// upstream call; Upstream records the target for reference and is not read by
// the pipeline.
type Spec struct {
	Pattern   string
	Cacheable bool
	Handler   HandlerFunc
	Upstream  string
}

// segment is one path-template element: either a literal or a `:name`/`:name?`
// capture.
type segment struct {
	literal  string
	name     string
	optional bool
	isParam  bool
}

// compiled pairs a Spec with its pre-split pattern segments.
type compiled struct {
	spec     *Spec
	segments []segment
}

// Table holds compiled routes in insertion order. Match walks it in reverse.
type Table struct {
	routes []*compiled
}

// Compile splits each pattern into segments once, up front, so Match never
// re-parses a pattern per request.
func Compile(specs []*Spec) *Table {
	t := &Table{routes: make([]*compiled, 0, len(specs))}
	for _, s := range specs {
		t.routes = append(t.routes, &compiled{spec: s, segments: splitPattern(s.Pattern)})
	}
	return t
}

func splitPattern(pattern string) []segment {
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, ":") {
			name := part[1:]
			optional := strings.HasSuffix(name, "?")
			if optional {
				name = strings.TrimSuffix(name, "?")
			}
			segments = append(segments, segment{name: name, optional: optional, isParam: true})
			continue
		}
		segments = append(segments, segment{literal: part})
	}
	return segments
}

// Match is the outcome of matching a request path against a compiled route.
type Match struct {
	Spec   *Spec
	Params map[string]string
}

// Match iterates the table in REVERSE INSERTION ORDER — later-declared routes
// take precedence — and returns the first pattern whose segments align with
// the request path. Mandatory param segments must have a corresponding path
// segment; optional ones may be absent only at the end of the pattern.
func (t *Table) Match(r *http.Request) *Match {
	pathParts := splitPath(r.URL.Path)
	for i := len(t.routes) - 1; i >= 0; i-- {
		route := t.routes[i]
		if params, ok := matchSegments(route.segments, pathParts); ok {
			return &Match{Spec: route.spec, Params: params}
		}
	}
	return nil
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func matchSegments(segments []segment, pathParts []string) (map[string]string, bool) {
	params := make(map[string]string)
	pi := 0
	for si := 0; si < len(segments); si++ {
		seg := segments[si]
		if pi >= len(pathParts) {
			if seg.isParam && seg.optional && si == len(segments)-1 {
				return params, true
			}
			return nil, false
		}
		if seg.isParam {
			params[seg.name] = pathParts[pi]
			pi++
			continue
		}
		if seg.literal != pathParts[pi] {
			return nil, false
		}
		pi++
	}
	if pi != len(pathParts) {
		return nil, false
	}
	return params, true
}

// ConstructURL substitutes each `:name`/`:name?` segment of pattern with the
// corresponding entry in params. A missing mandatory parameter fails with a
// ParamMissingError; a missing optional one resolves to the empty segment.
func ConstructURL(pattern string, params map[string]string) (string, error) {
	segments := splitPattern(pattern)
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if !seg.isParam {
			parts = append(parts, seg.literal)
			continue
		}
		v, ok := params[seg.name]
		if !ok {
			if seg.optional {
				parts = append(parts, "")
				continue
			}
			return "", cacheerrors.NewParamMissingError(seg.name)
		}
		parts = append(parts, v)
	}
	return "/" + strings.Join(parts, "/"), nil
}
