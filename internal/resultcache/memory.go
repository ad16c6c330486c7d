package resultcache

import (
	"context"
	"sync"
)

// MemoryCache is an in-process Cache used by tests and local trials.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryCache returns an empty in-process result cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]Entry)}
}

func (c *MemoryCache) Put(ctx context.Context, jobID string, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jobID] = entries
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, jobID string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.entries[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return entries, nil
}

func (c *MemoryCache) Delete(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
	return nil
}
