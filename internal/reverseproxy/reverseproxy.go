// Package reverseproxy builds RouteSpec handlers that dispatch to an
// upstream, normalize the response to identity encoding, and raise a
// RouteError on non-2xx responses (C8).
package reverseproxy

import (
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wudi/edgecache/internal/codec"
	cacheerrors "github.com/wudi/edgecache/internal/errors"
	"github.com/wudi/edgecache/internal/router"
)

// hopByHopHeaders are stripped from the inbound copy sent upstream. The
// upstream response's headers are passed through with only Content-Encoding
// and Content-Length removed.
var hopByHopHeaders = []string{
	"Host",
	"Connection",
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"Public-Key-Pins",
}

// Transport builds the shared http.Client used by every proxied route.
// Pooled and reused rather than built per-request.
func Transport() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// clientIPExtractor returns a client IP given a request, or "" if its source
// isn't present. Extractors run in priority order; the first hit wins.
type clientIPExtractor func(r *http.Request) string

var clientIPExtractors = []clientIPExtractor{
	fromXForwardedFor,
	fromHeader("X-Client-IP"),
	fromXAzureForwardedFor,
	fromHeader("X-Real-IP"),
	fromForwarded,
	fromRemoteAddr,
}

func fromXForwardedFor(r *http.Request) string {
	return firstCommaElement(r.Header.Get("X-Forwarded-For"))
}

func fromXAzureForwardedFor(r *http.Request) string {
	return firstCommaElement(r.Header.Get("X-Azure-Forwarded-For"))
}

func fromHeader(name string) clientIPExtractor {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

func fromForwarded(r *http.Request) string {
	header := r.Header.Get("Forwarded")
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "for=") {
			continue
		}
		v := strings.TrimPrefix(part, part[:4])
		v = strings.Trim(v, `"`)
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func fromRemoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func firstCommaElement(s string) string {
	if s == "" {
		return ""
	}
	parts := strings.SplitN(s, ",", 2)
	return strings.TrimSpace(parts[0])
}

// clientIP walks the extractors in priority order and returns the first
// non-empty result.
func clientIP(r *http.Request) string {
	for _, extract := range clientIPExtractors {
		if ip := extract(r); ip != "" {
			return ip
		}
	}
	return ""
}

// Options configures a proxied route.
type Options struct {
	Cacheable bool
}

// Route builds a RouteSpec whose handler proxies to upstreamTarget,
// substituting pattern's params into upstreamTarget's own path template via
// C4's ConstructURL (§4.8).
func Route(pattern, upstreamTarget string, opts Options, client *http.Client, pool *codec.Pool) (*router.Spec, error) {
	target, err := url.Parse(upstreamTarget)
	if err != nil {
		return nil, err
	}

	handler := func(r *http.Request, params map[string]string) (*router.HandlerResult, error) {
		return dispatch(r, params, target, client, pool)
	}

	return &router.Spec{
		Pattern:   pattern,
		Cacheable: opts.Cacheable,
		Handler:   handler,
		Upstream:  upstreamTarget,
	}, nil
}

func dispatch(r *http.Request, params map[string]string, target *url.URL, client *http.Client, pool *codec.Pool) (*router.HandlerResult, error) {
	path, err := router.ConstructURL(target.Path, params)
	if err != nil {
		return nil, err
	}

	upstreamURL := &url.URL{
		Scheme:   target.Scheme,
		Host:     target.Host,
		Path:     path,
		RawQuery: r.URL.RawQuery,
	}

	body := r.Body
	header := r.Header.Clone()

	if isMultipart(header) {
		buffered, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, cacheerrors.Wrap(err, http.StatusBadGateway, "reading multipart body failed")
		}
		header.Del("Content-Length")
		header.Del("Content-Type")
		body = io.NopCloser(strings.NewReader(string(buffered)))
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), body)
	if err != nil {
		return nil, cacheerrors.Wrap(err, http.StatusBadGateway, "building upstream request failed")
	}
	req.Header = header

	for _, h := range hopByHopHeaders {
		req.Header.Del(h)
	}
	req.Header.Set("X-Forwarded-Host", r.Host)
	req.Header.Set("X-Forwarded-Proto", scheme(r))
	if ip := clientIP(r); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, cacheerrors.Wrap(err, http.StatusBadGateway, "upstream request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cacheerrors.Wrap(err, http.StatusBadGateway, "reading upstream response failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, cacheerrors.NewRouteError(resp.StatusCode, string(respBody))
	}

	normalized, err := pool.Decompress(respBody, codec.ParseEncoding(resp.Header.Get("Content-Encoding")))
	if err != nil {
		return nil, err
	}

	respHeader := resp.Header.Clone()
	respHeader.Del("Content-Encoding")
	respHeader.Del("Content-Length")

	return &router.HandlerResult{
		StatusCode: resp.StatusCode,
		Header:     respHeader,
		Body:       normalized,
	}, nil
}

func isMultipart(header http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
