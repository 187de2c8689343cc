package build

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
)

// OutputCache remembers what was last written to every output path so a
// rebuild producing identical bytes leaves the file untouched. An entry is
// only trusted while the file on disk still has the size and modification
// time recorded at write time; anything edited or deleted behind the
// cache's back is rewritten.
type OutputCache struct {
	table   *crc32.Table
	mu      sync.RWMutex
	entries map[string]outputEntry
	hits    atomic.Int64
	misses  atomic.Int64
}

type outputEntry struct {
	sum     uint32
	size    int64
	modTime time.Time
}

// NewOutputCache creates an empty cache.
func NewOutputCache() *OutputCache {
	return &OutputCache{
		table:   crc32.MakeTable(crc32.Castagnoli),
		entries: make(map[string]outputEntry),
	}
}

// Unchanged reports whether target already holds data.
func (c *OutputCache) Unchanged(fsys afero.Fs, target string, data []byte) bool {
	c.mu.RLock()
	e, ok := c.entries[target]
	c.mu.RUnlock()

	if ok && e.size == int64(len(data)) {
		info, err := fsys.Stat(target)
		if err == nil && info.Size() == e.size && info.ModTime().Equal(e.modTime) &&
			crc32.Checksum(data, c.table) == e.sum {
			c.hits.Add(1)
			return true
		}
	}
	c.misses.Add(1)
	return false
}

// Store records data as the current content of target. Call it after a
// successful write.
func (c *OutputCache) Store(fsys afero.Fs, target string, data []byte) {
	info, err := fsys.Stat(target)
	if err != nil {
		c.mu.Lock()
		delete(c.entries, target)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.entries[target] = outputEntry{
		sum:     crc32.Checksum(data, c.table),
		size:    info.Size(),
		modTime: info.ModTime(),
	}
	c.mu.Unlock()
}

// Forget drops every entry at or below dir and returns how many were
// removed.
func (c *OutputCache) Forget(dir string) int {
	dir = filepath.Clean(dir)
	prefix := dir + string(os.PathSeparator)

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for p := range c.entries {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(c.entries, p)
			n++
		}
	}
	return n
}

// Len returns the number of tracked outputs.
func (c *OutputCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetHitRate returns the share of writes skipped, as a percentage.
func (c *OutputCache) GetHitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}
