package directory

import (
	"log"
	"sync"
)

// MemoryCache is the client's local record cache. Once an entry's ExpiresAt
// has passed, Get reports it as a miss; the entry stays in the map until Set
// overwrites it or Delete removes it.
type MemoryCache struct {
	logger *log.Logger

	mu      sync.Mutex
	entries map[string]Record
}

// NewMemoryCache creates an empty record cache.
func NewMemoryCache(logger *log.Logger) *MemoryCache {
	if logger == nil {
		logger = log.Default()
	}
	return &MemoryCache{logger: logger, entries: make(map[string]Record)}
}

// Set stores record under its own name.
func (c *MemoryCache) Set(record Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[record.Name] = record
	c.logger.Printf("[DirectoryCache] cache set %q", record.Name)
}

// Get returns the cached record for name, or false if absent or expired.
// An expired entry is treated as a miss (it is not proactively deleted
// here; the registry's own TTL sweep is authoritative, and Set will
// overwrite stale local entries on the next successful Register).
func (c *MemoryCache) Get(name string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.entries[name]
	if !ok || record.ExpiresAt <= nowUnix() {
		c.logger.Printf("[DirectoryCache] cache miss %q", name)
		return Record{}, false
	}

	c.logger.Printf("[DirectoryCache] cache hit %q", name)
	return record, true
}

// Delete evicts name's cache entry, if any.
func (c *MemoryCache) Delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
	c.logger.Printf("[DirectoryCache] cache del %q", name)
}
