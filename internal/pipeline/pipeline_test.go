package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/edgecache/internal/cache"
	"github.com/wudi/edgecache/internal/codec"
	"github.com/wudi/edgecache/internal/cors"
	"github.com/wudi/edgecache/internal/reqmemo"
	"github.com/wudi/edgecache/internal/router"
	"github.com/wudi/edgecache/internal/swr"
)

func newPipeline(specs []*router.Spec) *Pipeline {
	store := cache.New(cache.Config{MaxBytes: 1 << 20})
	pool := codec.New()
	engine := swr.New(store, pool, nil)
	routes := router.Compile(specs)
	memo := reqmemo.New()
	corsHandler := cors.New(cors.Config{Enabled: true, AllowOrigins: []string{"*"}})
	return New(routes, memo, engine, pool, corsHandler)
}

func TestHealthCheck(t *testing.T) {
	p := newPipeline(nil)
	r := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !body.Success || body.Message != "Health Check is good." {
		t.Errorf("body = %+v", body)
	}
}

func TestUndefinedRouteIs404(t *testing.T) {
	p := newPipeline(nil)
	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !jsonContains(rec.Body.Bytes(), "Page not found!") {
		t.Errorf("body = %s, want it to contain Page not found!", rec.Body.Bytes())
	}
}

func jsonContains(body []byte, substr string) bool {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return false
	}
	for _, v := range m {
		if s, ok := v.(string); ok && s == substr {
			return true
		}
	}
	return false
}

func TestCORSPreflight(t *testing.T) {
	p := newPipeline(nil)
	r := httptest.NewRequest(http.MethodOptions, "/anything", nil)
	r.Header.Set("Origin", "http://example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Access-Control-Allow-Methods to be set")
	}
}

func TestSWRMissThenHitWithBackgroundRefresh(t *testing.T) {
	calls := 0
	spec := &router.Spec{
		Pattern:   "/cache",
		Cacheable: true,
		Handler: func(r *http.Request, params map[string]string) (*router.HandlerResult, error) {
			calls++
			return &router.HandlerResult{Body: []byte("Hello, World!"), Header: http.Header{}, StatusCode: 200}, nil
		},
	}
	p := newPipeline([]*router.Spec{spec})

	rec1 := httptest.NewRecorder()
	p.ServeHTTP(rec1, httptest.NewRequest(http.MethodGet, "/cache", nil))
	if rec1.Body.String() != "Hello, World!" {
		t.Fatalf("first response = %q, want Hello, World!", rec1.Body.String())
	}
	if rec1.Header().Get("X-Cache") != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", rec1.Header().Get("X-Cache"))
	}

	rec2 := httptest.NewRecorder()
	p.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/cache", nil))
	if rec2.Header().Get("X-Cache") != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", rec2.Header().Get("X-Cache"))
	}

	deadline := time.Now().Add(time.Second)
	for calls < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls < 2 {
		t.Error("expected the HIT to trigger a background revalidation call")
	}
}
