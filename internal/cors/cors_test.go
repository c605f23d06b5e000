package cors

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsPreflight(t *testing.T) {
	h := New(Config{Enabled: true, AllowOrigins: []string{"*"}})

	r := httptest.NewRequest(http.MethodOptions, "/anything", nil)
	r.Header.Set("Origin", "http://example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")

	if !h.IsPreflight(r) {
		t.Fatal("expected IsPreflight to be true")
	}
}

func TestHandlePreflightReturns204WithMethods(t *testing.T) {
	h := New(Config{Enabled: true, AllowOrigins: []string{"*"}})

	r := httptest.NewRequest(http.MethodOptions, "/anything", nil)
	r.Header.Set("Origin", "http://example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	h.HandlePreflight(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Access-Control-Allow-Methods = %q, want it to contain POST", got)
	}
}

func TestApplyIsNoopWhenDisabled(t *testing.T) {
	h := New(Config{Enabled: false})
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()

	h.Apply(rec, r)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no CORS headers when disabled")
	}
}

func TestApplyRejectsDisallowedOrigin(t *testing.T) {
	h := New(Config{Enabled: true, AllowOrigins: []string{"http://allowed.example"}})
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()

	h.Apply(rec, r)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no CORS headers for a disallowed origin")
	}
}

