package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wudi/edgecache/internal/cacheobj"
)

// sidecarMagic and sidecarVersion identify the on-disk dump format. The
// source format this was ported from had no framing header at all; both are
// additions so the format can evolve without breaking existing dump files.
const (
	sidecarMagic   = "ECS1"
	sidecarVersion = uint32(1)
)

// Persister periodically dumps a Store to a sidecar file and can reload it
// at startup. Concurrent dump triggers within one window collapse to a
// single in-flight write via singleflight.
type Persister struct {
	store *Store
	path  string
	group singleflight.Group
}

// NewPersister targets "<dir>/cache.bin" for dumps/loads.
func NewPersister(store *Store, dir string) *Persister {
	return &Persister{store: store, path: filepath.Join(dir, "cache.bin")}
}

// Path returns the sidecar file path this Persister reads/writes.
func (p *Persister) Path() string {
	return p.path
}

// Dump writes the store's current contents to the sidecar file. Concurrent
// calls collapse to one write via singleflight; all callers see that write's
// result.
func (p *Persister) Dump() error {
	_, err, _ := p.group.Do("dump", func() (any, error) {
		return nil, p.dumpOnce()
	})
	return err
}

func (p *Persister) dumpOnce() error {
	entries := p.store.Dump()

	var buf bytes.Buffer
	if _, err := buf.WriteString(sidecarMagic); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, sidecarVersion); err != nil {
		return err
	}

	for _, de := range entries {
		if err := encodeEntry(&buf, de.Key, de.Entry); err != nil {
			return err
		}
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

func encodeEntry(w io.Writer, key string, entry *cacheobj.CachedEntry) error {
	keyBytes := []byte(key)
	if err := writeU32Prefixed(w, keyBytes); err != nil {
		return err
	}

	headerBytes := []byte(encodeHeaders(entry.Header))
	if err := writeU32Prefixed(w, headerBytes); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, int32(entry.Status)); err != nil {
		return err
	}

	// Explicit length prefix: the format this was ported from inferred body
	// length from end-of-file/next-entry, which only works for a single
	// trailing entry. A u32 bodyLen makes multi-entry files unambiguous.
	if err := writeU32Prefixed(w, entry.Body); err != nil {
		return err
	}
	return nil
}

func writeU32Prefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func encodeHeaders(h http.Header) string {
	var b strings.Builder
	for name, values := range h {
		for _, v := range values {
			b.WriteString(name)
			b.WriteByte(':')
			b.WriteString(v)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func decodeHeaders(s string) http.Header {
	h := http.Header{}
	for _, line := range strings.Split(s, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		h.Add(parts[0], parts[1])
	}
	return h
}

// Load reads the sidecar file, if present, and replaces the store's
// contents. A missing file is not an error — it means no prior dump exists.
func (p *Persister) Load() error {
	f, err := os.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	magic := make([]byte, len(sidecarMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("cache sidecar: reading magic: %w", err)
	}
	if string(magic) != sidecarMagic {
		return fmt.Errorf("cache sidecar: bad magic %q", magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("cache sidecar: reading version: %w", err)
	}
	if version != sidecarVersion {
		return fmt.Errorf("cache sidecar: unsupported version %d", version)
	}

	var entries []DumpEntry
	for {
		de, err := decodeEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("cache sidecar: %w", err)
		}
		entries = append(entries, de)
	}

	p.store.Load(entries)
	return nil
}

func decodeEntry(r io.Reader) (DumpEntry, error) {
	keyBytes, err := readU32Prefixed(r)
	if err != nil {
		return DumpEntry{}, err
	}

	headerBytes, err := readU32Prefixed(r)
	if err != nil {
		return DumpEntry{}, err
	}

	var status int32
	if err := binary.Read(r, binary.LittleEndian, &status); err != nil {
		return DumpEntry{}, err
	}

	body, err := readU32Prefixed(r)
	if err != nil {
		return DumpEntry{}, err
	}

	entry := &cacheobj.CachedEntry{
		Status: int(status),
		Header: decodeHeaders(string(headerBytes)),
		Body:   body,
	}
	entry.Size = len(body) + len(headerBytes)
	return DumpEntry{Key: string(keyBytes), Entry: entry}, nil
}

func readU32Prefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// StartPeriodicDump launches a background loop that dumps the store every
// interval until stop is closed. Dump errors are handed to onError rather than
// panicking the loop.
func (p *Persister) StartPeriodicDump(interval time.Duration, stop <-chan struct{}, onError func(error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := p.Dump(); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
}
