package server

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

type etagEntry struct {
	size    int64
	modTime time.Time
	tag     string
}

// etagCache remembers content-hash ETags. An entry is valid while the file's
// size and mod time are unchanged.
type etagCache struct {
	mu      sync.Mutex
	entries map[string]etagEntry
}

func newETagCache() *etagCache {
	return &etagCache{entries: make(map[string]etagEntry)}
}

// lookup returns the ETag for name, hashing f when the cached entry is stale.
// f is left positioned at the start.
func (c *etagCache) lookup(name string, info fs.FileInfo, f io.ReadSeeker) (string, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.tag, nil
	}

	tag, err := contentETag(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", name, err)
	}

	c.mu.Lock()
	c.entries[name] = etagEntry{size: info.Size(), modTime: info.ModTime(), tag: tag}
	c.mu.Unlock()
	return tag, nil
}

// contentETag is the quoted hex of the first 16 bytes of the BLAKE3 digest.
func contentETag(f io.ReadSeeker) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	sum := h.Sum(nil)
	return `"` + hex.EncodeToString(sum[:16]) + `"`, nil
}
