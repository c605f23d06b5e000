// Package codec implements the compress/decompress pool for the four
// content-codings the cache understands: brotli, gzip, deflate, identity (C1).
package codec

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"

	"github.com/wudi/edgecache/internal/errors"
)

// Encoding is one of the four content-codings the pool handles.
type Encoding string

const (
	Brotli   Encoding = "br"
	Gzip     Encoding = "gzip"
	Deflate  Encoding = "deflate"
	Identity Encoding = "identity"
)

const (
	brotliQuality = 11
	gzipLevel     = kgzip.BestCompression  // 9
	deflateLevel  = kflate.BestCompression // 9
)

// Pool compresses and decompresses bytes for the four supported encodings.
// Brotli availability is probed once at construction; callers read it via
// BrotliAvailable instead of re-probing per request.
type Pool struct {
	brotliAvailable atomic.Bool
	gzipWriterPool  sync.Pool
	flateWriterPool sync.Pool
}

// New creates a codec Pool and probes brotli availability.
// Per spec.md §9, this targets a native library binding rather than shelling
// out to a `brotli` CLI: the probe just confirms the native encoder round-trips.
func New() *Pool {
	p := &Pool{}
	p.gzipWriterPool = sync.Pool{New: func() any {
		w, _ := kgzip.NewWriterLevel(io.Discard, gzipLevel)
		return w
	}}
	p.flateWriterPool = sync.Pool{New: func() any {
		w, _ := kflate.NewWriter(io.Discard, deflateLevel)
		return w
	}}
	p.brotliAvailable.Store(probeBrotli())
	return p
}

// probeBrotli round-trips a tiny payload through the native brotli codec.
// A failure here (e.g. a broken cgo-free build with no brotli support)
// causes the pool to drop "br" from the preferred-encodings list globally.
func probeBrotli() bool {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotliQuality)
	if _, err := w.Write([]byte("probe")); err != nil {
		return false
	}
	if err := w.Close(); err != nil {
		return false
	}
	r := brotli.NewReader(&buf)
	if _, err := io.ReadAll(r); err != nil {
		return false
	}
	return true
}

// BrotliAvailable reports whether the brotli codec is usable on this host.
func (p *Pool) BrotliAvailable() bool {
	return p.brotliAvailable.Load()
}

// PreferredEncodings returns the server's preferred store/negotiation order,
// [br, gzip, deflate, identity] minus "br" when brotli is unavailable.
func (p *Pool) PreferredEncodings() []Encoding {
	if p.BrotliAvailable() {
		return []Encoding{Brotli, Gzip, Deflate, Identity}
	}
	return []Encoding{Gzip, Deflate, Identity}
}

// Compress encodes body using enc. Never silently falls back to a different
// encoding: failures surface as a *errors.CacheError carrying enc's name.
func (p *Pool) Compress(body []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case Identity:
		return body, nil
	case Brotli:
		if !p.BrotliAvailable() {
			return nil, errors.NewCodecError(string(enc), errBrotliUnavailable)
		}
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotliQuality)
		if _, err := w.Write(body); err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		if err := w.Close(); err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		return buf.Bytes(), nil
	case Gzip:
		var buf bytes.Buffer
		w := p.gzipWriterPool.Get().(*kgzip.Writer)
		defer p.gzipWriterPool.Put(w)
		w.Reset(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		if err := w.Close(); err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		return buf.Bytes(), nil
	case Deflate:
		var buf bytes.Buffer
		w := p.flateWriterPool.Get().(*kflate.Writer)
		defer p.flateWriterPool.Put(w)
		w.Reset(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		if err := w.Close(); err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.NewCodecError(string(enc), errUnknownEncoding)
	}
}

// Decompress decodes body that was encoded with enc.
func (p *Pool) Decompress(body []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case Identity, "":
		return body, nil
	case Brotli:
		r := brotli.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		return out, nil
	case Gzip:
		r, err := kgzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		return out, nil
	case Deflate:
		r := kflate.NewReader(bytes.NewReader(body))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.NewCodecError(string(enc), err)
		}
		return out, nil
	default:
		return nil, errors.NewCodecError(string(enc), errUnknownEncoding)
	}
}

// ParseEncoding maps a raw `Accept-Encoding`/`content-encoding` token to an Encoding,
// defaulting unknown tokens to Identity rather than erroring — negotiation is
// expected to filter against acceptable lists before this is ever decisive.
func ParseEncoding(s string) Encoding {
	switch Encoding(s) {
	case Brotli, Gzip, Deflate, Identity:
		return Encoding(s)
	default:
		return Identity
	}
}

var errBrotliUnavailable = errUnavailable("brotli")
var errUnknownEncoding = errUnavailable("unknown encoding")

type errUnavailable string

func (e errUnavailable) Error() string { return string(e) + " unavailable" }
