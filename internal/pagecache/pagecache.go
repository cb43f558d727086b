// Package pagecache implements the bounded, process-wide cache of static
// file contents described in spec.md §4.2: a 4 MiB budget, arbitrary (not
// LRU) eviction order, and four compiled-in default error/status pages.
// It is touched only from the reactor's single thread, so no locking is
// needed — mirroring the teacher's own buffer_pool.go comment that pool
// state is safe only under its documented concurrency model, generalized
// here to "single goroutine" instead of "sync.Pool".
package pagecache

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/sonjasonjao/webserv-sub000/internal/util"
)

// SizeMax is the total byte budget for the cache (spec.md §3 CACHE_SIZE_MAX).
const SizeMax = 4 << 20

var (
	// ErrFileTooLarge is returned when a single entry would exceed SizeMax.
	ErrFileTooLarge = errors.New("pagecache: file exceeds cache size max")
	// ErrNotFound is returned when the backing file does not exist.
	ErrNotFound = util.ErrNotFound
	// ErrIO is returned for any other read failure.
	ErrIO = util.ErrIO
)

const (
	DefaultKey200 = "default200"
	DefaultKey204 = "default204"
	DefaultKey400 = "default400"
	DefaultKey404 = "default404"
)

var defaultBodies = map[string]string{
	DefaultKey200: "<html><head><title>OK</title></head><body><h1>200 OK</h1></body></html>\n",
	DefaultKey204: "",
	DefaultKey400: "<html><head><title>Bad Request</title></head><body><h1>400 Bad Request</h1></body></html>\n",
	DefaultKey404: "<html><head><title>Not Found</title></head><body><h1>404 Not Found</h1></body></html>\n",
}

// entry holds one cached body plus an in-flight pin count: while pinned > 0
// the entry is exempt from eviction, since an in-progress Response send may
// still hold a reference to its bytes (spec.md §5 "eviction of an entry
// currently being sent is forbidden").
type entry struct {
	data   []byte
	pinned int
}

// Cache is the bounded static-content cache. Zero value is not usable; use
// New.
type Cache struct {
	entries map[string]*entry
	size    int64
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// LoadDefaults installs the four compiled-in default pages. Idempotent.
func (c *Cache) LoadDefaults() {
	for key, body := range defaultBodies {
		if old, ok := c.entries[key]; ok {
			c.size -= int64(len(old.data))
		}
		c.entries[key] = &entry{data: []byte(body)}
		c.size += int64(len(body))
	}
}

// ClearCache empties the cache, including default pages. Pinned entries are
// evicted anyway — callers that clear the cache are assumed to own the
// reactor's only thread and know no send is in flight.
func (c *Cache) ClearCache() {
	c.entries = make(map[string]*entry)
	c.size = 0
}

// Get returns the cached bytes for key and pins the entry, or (nil, false)
// on a cache miss. The caller must call Unpin(key) once the bytes are no
// longer referenced (e.g. after the Response finishes sending).
func (c *Cache) Get(key string) ([]byte, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.pinned++
	return e.data, true
}

// Unpin releases a pin taken by Get. It is a no-op if key is absent (the
// entry may have been cleared while pinned).
func (c *Cache) Unpin(key string) {
	if e, ok := c.entries[key]; ok && e.pinned > 0 {
		e.pinned--
	}
}

// GetOrLoad returns the cached bytes for key, reading and inserting from
// disk (rooted at searchDir) on miss. It rejects files larger than
// SizeMax and evicts arbitrary unpinned entries until the new entry fits,
// per spec.md §4.2. The returned entry is pinned; call Unpin when done.
func (c *Cache) GetOrLoad(searchDir, key string) ([]byte, error) {
	if data, ok := c.Get(key); ok {
		return data, nil
	}

	data, err := util.GetFileAsBytes(searchDir, key, SizeMax)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrNotFound):
			return nil, ErrNotFound
		default:
			if info, serr := os.Stat(filepath.Join(searchDir, key)); serr == nil && info.Size() > SizeMax {
				return nil, ErrFileTooLarge
			}
			return nil, ErrIO
		}
	}
	if int64(len(data)) > SizeMax {
		return nil, ErrFileTooLarge
	}

	c.evictUntilFits(int64(len(data)))
	c.entries[key] = &entry{data: data, pinned: 1}
	c.size += int64(len(data))
	return data, nil
}

// evictUntilFits removes arbitrary unpinned entries (Go map iteration order
// is itself unspecified, which is exactly the "need not be LRU" contract)
// until adding n more bytes would not exceed SizeMax.
func (c *Cache) evictUntilFits(n int64) {
	for c.size+n > SizeMax {
		var victim string
		found := false
		for key, e := range c.entries {
			if e.pinned == 0 {
				victim = key
				found = true
				break
			}
		}
		if !found {
			return // everything pinned; bound is temporarily exceeded
		}
		c.size -= int64(len(c.entries[victim].data))
		delete(c.entries, victim)
	}
}

// Size returns the current total cached byte count.
func (c *Cache) Size() int64 {
	return c.size
}
