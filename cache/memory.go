// Package cache holds ResponseCache backends for askgate.
package cache

import (
	"context"
	"sync"

	"github.com/ineyio/askgate"
)

// MemoryCache is an in-process ResponseCache. Records do not survive restarts.
type MemoryCache struct {
	mu      sync.RWMutex
	records map[string]askgate.UsageRecord
}

var _ askgate.ResponseCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[string]askgate.UsageRecord)}
}

// Load returns the stored record for namespace, or nil.
func (c *MemoryCache) Load(_ context.Context, namespace string) (*askgate.UsageRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[namespace]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Save overwrites the record for namespace.
func (c *MemoryCache) Save(_ context.Context, namespace string, rec askgate.UsageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[namespace] = *cloneRecord(rec)
	return nil
}

func cloneRecord(rec askgate.UsageRecord) *askgate.UsageRecord {
	out := rec
	if rec.CachedMessage != nil {
		msg := *rec.CachedMessage
		out.CachedMessage = &msg
	}
	return &out
}
