// Package pipeline wires the router, key derivation, SWR engine, and CORS
// collaborator into the single http.Handler that serves every inbound
// request (C9).
package pipeline

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wudi/edgecache/internal/cacheobj"
	"github.com/wudi/edgecache/internal/codec"
	"github.com/wudi/edgecache/internal/cors"
	cacheerrors "github.com/wudi/edgecache/internal/errors"
	"github.com/wudi/edgecache/internal/keyhash"
	"github.com/wudi/edgecache/internal/logging"
	"github.com/wudi/edgecache/internal/reqmemo"
	"github.com/wudi/edgecache/internal/router"
	"github.com/wudi/edgecache/internal/swr"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per request ID.
	uuid.EnableRandPool()
}

const requestIDHeader = "X-Request-ID"

// Pipeline is the gateway's single entry point: it owns no state of its own
// beyond what the router, memo table, and SWR engine already own.
type Pipeline struct {
	routes *router.Table
	memo   *reqmemo.Table
	engine *swr.Engine
	pool   *codec.Pool
	cors   *cors.Handler
}

// New wires a Pipeline from its component collaborators.
func New(routes *router.Table, memo *reqmemo.Table, engine *swr.Engine, pool *codec.Pool, corsHandler *cors.Handler) *Pipeline {
	return &Pipeline{routes: routes, memo: memo, engine: engine, pool: pool, cors: corsHandler}
}

// ServeHTTP implements http.Handler, running the full decision procedure
// from §4.9 with panic recovery at the boundary.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = uuid.New().String()
	}
	w.Header().Set(requestIDHeader, reqID)

	defer p.memo.Release(r)
	defer p.recover(w, r, reqID)

	switch {
	case r.URL.Path == "/favicon.ico":
		cacheerrors.ErrNotFound.WriteJSON(w)
		return
	case r.URL.Path == "/healthcheck":
		writeHealthCheck(w)
		return
	case p.cors.IsPreflight(r):
		p.cors.HandlePreflight(w, r)
		return
	}

	match := p.routes.Match(r)
	if match == nil {
		p.cors.Apply(w, r)
		w.Header().Set("X-Cache", string(swr.Error))
		cacheerrors.ErrNotFound.WriteJSON(w)
		return
	}

	acceptable := acceptableEncodings(r)
	requestKey := p.requestKey(r)

	result, err := p.engine.Decide(swr.Request{
		RequestKey:          requestKey,
		Cacheable:           match.Spec.Cacheable,
		Method:              r.Method,
		AcceptableEncodings: acceptable,
		Handler:             match.Spec.Handler,
		HTTPRequest:         r,
		Params:              match.Params,
	})
	if err != nil {
		p.writeError(w, r, reqID, err)
		return
	}

	if len(result.Entry.Body) == 0 {
		p.cors.Apply(w, r)
		w.Header().Set("X-Cache", string(swr.Error))
		cacheerrors.ErrNotFound.WriteJSON(w)
		return
	}

	p.writeEntry(w, r, result)
}

// requestKey derives the method-prefixed request key via C2, memoized by C3
// so repeated lookups in one request's lifetime compute it once. Per the
// spec's open question on whether non-GET safe methods share GET's cache
// entries, this gateway keeps them separate: the method is part of the key.
func (p *Pipeline) requestKey(r *http.Request) string {
	v := p.memo.Get(r, "requestKey", func() any {
		return r.Method + ":" + keyhash.RequestKey(r)
	})
	return v.(string)
}

func acceptableEncodings(r *http.Request) []codec.Encoding {
	raw := r.Header.Get("Accept-Encoding")
	if strings.TrimSpace(raw) == "" {
		return []codec.Encoding{codec.Identity}
	}
	var out []codec.Encoding
	for _, tok := range strings.Split(raw, ",") {
		out = append(out, codec.ParseEncoding(strings.TrimSpace(tok)))
	}
	return out
}

func (p *Pipeline) writeEntry(w http.ResponseWriter, r *http.Request, result *swr.Result) {
	p.cors.Apply(w, r)

	header := w.Header()
	for name, values := range result.Entry.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	if header.Get("X-Cache") == "" {
		header.Set("X-Cache", string(result.Source))
	}

	status := result.Entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(result.Entry.Body)
}

func (p *Pipeline) writeError(w http.ResponseWriter, r *http.Request, reqID string, err error) {
	p.cors.Apply(w, r)
	w.Header().Set("X-Cache", string(swr.Error))

	ce, ok := cacheerrors.As(err)
	if !ok {
		ce = cacheerrors.Wrap(err, http.StatusInternalServerError, "internal server error")
	}

	logging.WithRequestID(reqID).Warn("pipeline: request failed",
		logging.CacheErrorFields(ce)...,
	)

	ce.WriteJSON(w)
}

func (p *Pipeline) recover(w http.ResponseWriter, r *http.Request, reqID string) {
	rec := recover()
	if rec == nil {
		return
	}

	stack := debug.Stack()
	logging.WithRequestID(reqID).Error("pipeline: panic recovered",
		zap.Any("error", rec),
		zap.ByteString("stack", stack),
	)

	p.cors.Apply(w, r)
	w.Header().Set("X-Cache", string(swr.Error))

	ce := cacheerrors.ErrInternalServer.WithStack(string(stack))
	ce.WriteJSON(w)
}

func writeHealthCheck(w http.ResponseWriter) {
	entry := &cacheobj.CachedEntry{
		Status: http.StatusOK,
		Body:   []byte(`{"success":true,"message":"Health Check is good."}`),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}
