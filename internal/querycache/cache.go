// Package querycache remembers query text by fingerprint so that a stream
// path carrying only the fingerprint can be resolved later in the process.
package querycache

import (
	"sync"

	"github.com/zoravur/materialize-live/internal/target"
)

// Cache is safe for concurrent use. Entries are never evicted.
type Cache struct {
	mu   sync.RWMutex
	data map[target.Fingerprint]target.QueryText
}

func New() *Cache {
	return &Cache{data: make(map[target.Fingerprint]target.QueryText)}
}

// Insert stores text under fp, overwriting any previous entry.
func (c *Cache) Insert(fp target.Fingerprint, text target.QueryText) {
	c.mu.Lock()
	c.data[fp] = text
	c.mu.Unlock()
}

// Remember inserts text under its own fingerprint and returns it.
func (c *Cache) Remember(text target.QueryText) target.Fingerprint {
	fp := target.FingerprintOf(text)
	c.Insert(fp, text)
	return fp
}

// Lookup implements target.Resolver.
func (c *Cache) Lookup(fp target.Fingerprint) (target.QueryText, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.data[fp]
	return q, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
