// Package swr implements the stale-while-revalidate decision procedure: serve
// a cache hit immediately while refreshing it in the background, with
// single-flight revalidation per key (C7).
package swr

import (
	"context"
	"net/http"
	"sync"

	"github.com/wudi/edgecache/internal/cache"
	"github.com/wudi/edgecache/internal/cacheobj"
	"github.com/wudi/edgecache/internal/codec"
	"github.com/wudi/edgecache/internal/router"
)

// safeMethods are the only methods the engine will ever consult or populate
// the cache for.
var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// CacheSource marks the X-Cache header value the pipeline stamps on a
// response.
type CacheSource string

const (
	Hit   CacheSource = "HIT"
	Miss  CacheSource = "MISS"
	Error CacheSource = "ERROR"
)

// Request groups everything the decision procedure needs about one inbound
// request; RequestKey is method-prefixed per the spec's recommended
// contract for non-GET safe methods not sharing GET's cache entries.
type Request struct {
	RequestKey          string
	Cacheable           bool
	Method              string
	AcceptableEncodings []codec.Encoding
	Handler             router.HandlerFunc
	HTTPRequest         *http.Request
	Params              map[string]string
}

// Result is what the engine hands back to the pipeline: the entry to render
// plus the X-Cache classification.
type Result struct {
	Entry  *cacheobj.CachedEntry
	Source CacheSource
}

// Logger is the narrow logging surface the engine needs for background
// revalidation failures, which are never surfaced to a client.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// Engine runs the SWR decision procedure against a cache.Store, tracking an
// InFlightSet of keys currently being revalidated in the background.
type Engine struct {
	store        *cache.Store
	pool         *codec.Pool
	logger       Logger
	revalidating sync.Map // key → struct{}, single-flight dedup
}

// New creates an Engine backed by store.
func New(store *cache.Store, pool *codec.Pool, logger Logger) *Engine {
	return &Engine{store: store, pool: pool, logger: logger}
}

// Decide runs the procedure described in §4.7: non-cacheable or unsafe
// methods bypass the cache entirely; a HIT returns immediately and schedules
// a background refresh; a MISS runs the handler synchronously and populates
// the cache.
func (e *Engine) Decide(req Request) (*Result, error) {
	if !req.Cacheable || !safeMethods[req.Method] {
		return e.runSynchronous(req)
	}

	if entry, ok := e.store.Get(req.RequestKey); ok && len(entry.Body) > 0 {
		e.scheduleRevalidation(req)
		return e.finalize(entry, Hit, req.AcceptableEncodings)
	}

	entry, err := e.populate(req)
	if err != nil {
		return nil, err
	}
	return e.finalize(entry, Miss, req.AcceptableEncodings)
}

func (e *Engine) runSynchronous(req Request) (*Result, error) {
	result, err := req.Handler(req.HTTPRequest, req.Params)
	if err != nil {
		return nil, err
	}
	entry, err := cacheobj.ToCacheable(result, req.AcceptableEncodings, e.pool)
	if err != nil {
		return nil, err
	}
	return &Result{Entry: entry, Source: Miss}, nil
}

// populate runs the handler synchronously on a cache miss, storing the
// canonical (most-compressed-available) encoding.
func (e *Engine) populate(req Request) (*cacheobj.CachedEntry, error) {
	result, err := req.Handler(req.HTTPRequest, req.Params)
	if err != nil {
		return nil, err
	}
	entry, err := cacheobj.ToCacheable(result, canonicalOnly(e.pool), e.pool)
	if err != nil {
		return nil, err
	}
	cacheobj.StoreWithTimestamp(e.store, req.RequestKey, entry)
	return entry, nil
}

// finalize transcodes entry to the caller's acceptable encodings, if needed,
// without ever mutating the stored copy.
func (e *Engine) finalize(entry *cacheobj.CachedEntry, source CacheSource, acceptable []codec.Encoding) (*Result, error) {
	if !accepts(entry, acceptable) {
		transcoded, err := cacheobj.Transcode(entry, acceptable, e.pool)
		if err != nil {
			return nil, err
		}
		entry = transcoded
	}
	return &Result{Entry: entry, Source: source}, nil
}

func accepts(entry *cacheobj.CachedEntry, acceptable []codec.Encoding) bool {
	current := codec.ParseEncoding(entry.Header.Get("Content-Encoding"))
	if len(acceptable) == 0 {
		return true
	}
	for _, a := range acceptable {
		if a == current {
			return true
		}
	}
	return false
}

func canonicalOnly(pool *codec.Pool) []codec.Encoding {
	preferred := pool.PreferredEncodings()
	return preferred[:1]
}

// scheduleRevalidation spawns a background refresh for req.RequestKey unless
// one is already running. The handler's request is cloned onto a detached
// context so the refresh survives the originating request's cancellation.
func (e *Engine) scheduleRevalidation(req Request) {
	if _, loaded := e.revalidating.LoadOrStore(req.RequestKey, struct{}{}); loaded {
		return
	}

	cloned := req.HTTPRequest.Clone(context.WithoutCancel(req.HTTPRequest.Context()))

	go func() {
		defer e.revalidating.Delete(req.RequestKey)

		result, err := req.Handler(cloned, req.Params)
		if err != nil {
			e.store.Delete(req.RequestKey)
			if e.logger != nil {
				e.logger.Warn("swr: revalidation failed, evicting entry",
					"key", req.RequestKey, "error", err)
			}
			return
		}

		entry, err := cacheobj.ToCacheable(result, canonicalOnly(e.pool), e.pool)
		if err != nil {
			e.store.Delete(req.RequestKey)
			if e.logger != nil {
				e.logger.Warn("swr: revalidation encode failed, evicting entry",
					"key", req.RequestKey, "error", err)
			}
			return
		}

		cacheobj.StoreWithTimestamp(e.store, req.RequestKey, entry)
	}()
}
