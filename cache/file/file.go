// Package file provides a JSON-file ResponseCache for askgate.
//
// Each namespace is stored in its own APICache_<namespace>.json document.
// Writes go to a temp file in the same directory and are renamed into place,
// so a reader never sees a half-written record.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ineyio/askgate"
)

// Cache is a file-backed ResponseCache.
type Cache struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

var _ askgate.ResponseCache = (*Cache)(nil)

// Option configures Cache.
type Option func(*Cache)

// WithLocation sets the zone record dates are written in (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(c *Cache) { c.loc = loc }
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{dir: dir, loc: time.Local}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("askgate/file: create cache dir: %w", err)
	}
	return c, nil
}

// Path returns the document path for namespace.
func (c *Cache) Path(namespace string) string {
	return filepath.Join(c.dir, "APICache_"+namespace+".json")
}

// Load reads the record for namespace. A missing file is (nil, nil).
func (c *Cache) Load(_ context.Context, namespace string) (*askgate.UsageRecord, error) {
	data, err := os.ReadFile(c.Path(namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("askgate/file: read: %w", err)
	}

	rec, err := askgate.DecodeUsageRecord(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save atomically replaces the record for namespace.
func (c *Cache) Save(_ context.Context, namespace string, rec askgate.UsageRecord) error {
	data, err := askgate.EncodeUsageRecord(rec, c.loc)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, ".APICache_"+namespace+"_*.tmp")
	if err != nil {
		return fmt.Errorf("askgate/file: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("askgate/file: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("askgate/file: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.Path(namespace)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("askgate/file: rename temp file: %w", err)
	}
	return nil
}
