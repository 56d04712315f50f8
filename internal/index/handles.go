package index

import (
	"errors"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// HandleCache keeps opened indexes for the lifetime of the process.
// Entries are only removed explicitly.
type HandleCache struct {
	mu      sync.RWMutex
	handles map[string]bleve.Index
}

// NewHandleCache returns an empty cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{handles: make(map[string]bleve.Index)}
}

func (c *HandleCache) Get(codebaseID string) (bleve.Index, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.handles[codebaseID]
	return idx, ok
}

// Put stores idx, closing any handle it replaces.
func (c *HandleCache) Put(codebaseID string, idx bleve.Index) {
	c.mu.Lock()
	old, ok := c.handles[codebaseID]
	c.handles[codebaseID] = idx
	c.mu.Unlock()
	if ok && old != idx {
		_ = old.Close()
	}
}

// Remove drops and closes the handle for codebaseID, if any.
func (c *HandleCache) Remove(codebaseID string) error {
	c.mu.Lock()
	idx, ok := c.handles[codebaseID]
	delete(c.handles, codebaseID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return idx.Close()
}

// Len returns the number of cached handles.
func (c *HandleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// CloseAll closes and drops every handle.
func (c *HandleCache) CloseAll() error {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[string]bleve.Index)
	c.mu.Unlock()

	var errs []error
	for _, idx := range handles {
		errs = append(errs, idx.Close())
	}
	return errors.Join(errs...)
}
