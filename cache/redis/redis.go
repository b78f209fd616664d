// Package redis provides a Redis-backed ResponseCache for askgate.
//
// Each namespace is one string key holding the same JSON document the file
// backend writes, so records can be moved between backends verbatim.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/askgate"
)

// Cache is a Redis-backed ResponseCache.
type Cache struct {
	client    goredis.Cmdable
	keyPrefix string
	ttl       time.Duration
	loc       *time.Location
}

var _ askgate.ResponseCache = (*Cache)(nil)

// Option configures Cache.
type Option func(*Cache)

// WithKeyPrefix sets the Redis key prefix (default "askgate:cache:").
func WithKeyPrefix(prefix string) Option {
	return func(c *Cache) { c.keyPrefix = prefix }
}

// WithTTL expires records after d. Zero (the default) keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithLocation sets the zone record dates are written in (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(c *Cache) { c.loc = loc }
}

// New creates a new Redis-backed ResponseCache.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Cache {
	c := &Cache{
		client:    client,
		keyPrefix: "askgate:cache:",
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(namespace string) string {
	return c.keyPrefix + namespace
}

// Load returns the record for namespace. A missing key is (nil, nil).
func (c *Cache) Load(ctx context.Context, namespace string) (*askgate.UsageRecord, error) {
	data, err := c.client.Get(ctx, c.key(namespace)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("askgate/redis: load: %w", err)
	}

	rec, err := askgate.DecodeUsageRecord(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save overwrites the record for namespace.
func (c *Cache) Save(ctx context.Context, namespace string, rec askgate.UsageRecord) error {
	data, err := askgate.EncodeUsageRecord(rec, c.loc)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(namespace), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("askgate/redis: save: %w", err)
	}
	return nil
}
