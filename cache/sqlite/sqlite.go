// Package sqlite provides a SQLite-backed ResponseCache for askgate using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/ineyio/askgate"
)

// Cache is a SQLite-backed ResponseCache.
type Cache struct {
	db   *sql.DB
	path string
}

var _ askgate.ResponseCache = (*Cache)(nil)

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("askgate/sqlite: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("askgate/sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("askgate/sqlite: connect: %w", err)
	}

	c := &Cache{db: db, path: path}
	if err := c.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := c.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Path returns the database file path.
func (c *Cache) Path() string { return c.path }

// Close closes the database.
func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := c.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("askgate/sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

func (c *Cache) createSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS usage_records (
			namespace TEXT PRIMARY KEY,
			call_date TEXT NOT NULL,
			call_count INTEGER NOT NULL,
			cached_role TEXT,
			cached_content TEXT
		)`)
	if err != nil {
		return fmt.Errorf("askgate/sqlite: create schema: %w", err)
	}
	return nil
}

// Load returns the record for namespace. A missing row is (nil, nil).
func (c *Cache) Load(ctx context.Context, namespace string) (*askgate.UsageRecord, error) {
	var (
		callDate  string
		callCount int
		role      sql.NullString
		content   sql.NullString
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT call_date, call_count, cached_role, cached_content FROM usage_records WHERE namespace = ?`,
		namespace,
	).Scan(&callDate, &callCount, &role, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("askgate/sqlite: load: %w", err)
	}

	date, err := time.Parse(time.RFC3339Nano, callDate)
	if err != nil {
		return nil, fmt.Errorf("askgate/sqlite: parse call_date: %w", err)
	}
	rec := &askgate.UsageRecord{CallDate: date, CallCount: callCount}
	if role.Valid && content.Valid {
		rec.CachedMessage = &askgate.ChatMessage{Role: role.String, Content: content.String}
	}
	return rec, nil
}

// Save upserts the record for namespace.
func (c *Cache) Save(ctx context.Context, namespace string, rec askgate.UsageRecord) error {
	var role, content sql.NullString
	if rec.CachedMessage != nil {
		role = sql.NullString{String: rec.CachedMessage.Role, Valid: true}
		content = sql.NullString{String: rec.CachedMessage.Content, Valid: true}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO usage_records (namespace, call_date, call_count, cached_role, cached_content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			call_date = excluded.call_date,
			call_count = excluded.call_count,
			cached_role = excluded.cached_role,
			cached_content = excluded.cached_content`,
		namespace, rec.CallDate.Format(time.RFC3339Nano), rec.CallCount, role, content,
	)
	if err != nil {
		return fmt.Errorf("askgate/sqlite: save: %w", err)
	}
	return nil
}
