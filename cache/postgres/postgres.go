// Package postgres provides a PostgreSQL-backed ResponseCache for askgate.
//
// One row per namespace holds the last successful exchange. Saves are upserts,
// so the table never grows beyond the number of namespaces.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/askgate"
)

// Cache is a PostgreSQL-backed ResponseCache.
type Cache struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ askgate.ResponseCache = (*Cache)(nil)

// Option configures Cache.
type Option func(*Cache)

// WithTablePrefix sets the table name prefix (default "askgate_").
func WithTablePrefix(prefix string) Option {
	return func(c *Cache) { c.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed ResponseCache.
func New(pool *pgxpool.Pool, opts ...Option) *Cache {
	c := &Cache{
		pool:        pool,
		tablePrefix: "askgate_",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) table() string { return c.tablePrefix + "usage_records" }

// EnsureSchema creates the required table if it doesn't exist.
func (c *Cache) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			namespace TEXT PRIMARY KEY,
			call_date TIMESTAMPTZ NOT NULL,
			call_count INTEGER NOT NULL,
			cached_role TEXT,
			cached_content TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, c.table())
	if _, err := c.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("askgate/postgres: ensure schema: %w", err)
	}
	return nil
}

// Load returns the record for namespace. A missing row is (nil, nil).
func (c *Cache) Load(ctx context.Context, namespace string) (*askgate.UsageRecord, error) {
	var (
		callDate  time.Time
		callCount int
		role      *string
		content   *string
	)
	err := c.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT call_date, call_count, cached_role, cached_content FROM %s WHERE namespace = $1`, c.table()),
		namespace,
	).Scan(&callDate, &callCount, &role, &content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("askgate/postgres: load: %w", err)
	}

	rec := &askgate.UsageRecord{CallDate: callDate, CallCount: callCount}
	if role != nil && content != nil {
		rec.CachedMessage = &askgate.ChatMessage{Role: *role, Content: *content}
	}
	return rec, nil
}

// Save upserts the record for namespace.
func (c *Cache) Save(ctx context.Context, namespace string, rec askgate.UsageRecord) error {
	var role, content *string
	if rec.CachedMessage != nil {
		role, content = &rec.CachedMessage.Role, &rec.CachedMessage.Content
	}
	_, err := c.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (namespace, call_date, call_count, cached_role, cached_content, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (namespace) DO UPDATE SET
				call_date = $2, call_count = $3, cached_role = $4, cached_content = $5, updated_at = now()`,
			c.table()),
		namespace, rec.CallDate, rec.CallCount, role, content,
	)
	if err != nil {
		return fmt.Errorf("askgate/postgres: save: %w", err)
	}
	return nil
}
