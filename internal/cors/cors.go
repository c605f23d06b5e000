// Package cors stamps CORS response headers and answers OPTIONS preflight
// requests, as an external collaborator to the request pipeline.
package cors

import (
	"net/http"
	"strconv"
	"strings"
)

// Config controls which origins/methods/headers the gateway allows.
type Config struct {
	Enabled          bool
	AllowOrigins     []string // "*" permits any origin
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           int // seconds
}

// Handler answers preflight requests and stamps CORS headers on normal ones.
type Handler struct {
	enabled          bool
	allowOrigins     []string
	allowAllOrigins  bool
	allowMethods     string
	allowHeaders     string
	allowCredentials bool
	maxAge           string
}

// New builds a Handler from cfg, applying the gateway's defaults for unset fields.
func New(cfg Config) *Handler {
	h := &Handler{
		enabled:          cfg.Enabled,
		allowOrigins:     cfg.AllowOrigins,
		allowCredentials: cfg.AllowCredentials,
	}

	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			h.allowAllOrigins = true
			break
		}
	}

	if len(cfg.AllowMethods) > 0 {
		h.allowMethods = strings.Join(cfg.AllowMethods, ", ")
	} else {
		h.allowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	}

	if len(cfg.AllowHeaders) > 0 {
		h.allowHeaders = strings.Join(cfg.AllowHeaders, ", ")
	} else {
		h.allowHeaders = "Content-Type, Accept-Encoding, x-unique-id"
	}

	if cfg.MaxAge > 0 {
		h.maxAge = strconv.Itoa(cfg.MaxAge)
	} else {
		h.maxAge = "86400"
	}

	return h
}

// Enabled reports whether CORS handling is turned on.
func (h *Handler) Enabled() bool {
	return h.enabled
}

// IsPreflight reports whether r is a CORS preflight request.
func (h *Handler) IsPreflight(r *http.Request) bool {
	return h.enabled && r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" && r.Header.Get("Access-Control-Request-Method") != ""
}

// Apply stamps CORS response headers for the request's origin. Safe to call
// even when CORS is disabled (it's then a no-op) or the request carries no
// Origin header.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	if !h.enabled {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" || !h.originAllowed(origin) {
		return
	}

	if h.allowAllOrigins && !h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	if h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.Header().Set("Access-Control-Expose-Headers", "X-Cache")
}

// HandlePreflight writes the 204 response for an OPTIONS preflight.
func (h *Handler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.originAllowed(origin) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if h.allowAllOrigins && !h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", h.allowMethods)
	w.Header().Set("Access-Control-Allow-Headers", h.allowHeaders)
	w.Header().Set("Access-Control-Max-Age", h.maxAge)
	if h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) originAllowed(origin string) bool {
	if h.allowAllOrigins {
		return true
	}
	for _, o := range h.allowOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
