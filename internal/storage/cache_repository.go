package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

// CacheRepository is a durable string key-value store backed by the
// cache_entries table.
type CacheRepository struct {
	BaseRepository
}

// NewCacheRepository creates a new cache repository.
func NewCacheRepository(db *DB) *CacheRepository {
	return &CacheRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Get returns the value stored under key. The boolean is false when the key
// is absent.
func (r *CacheRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.DB().QueryRowContext(ctx, `
		SELECT value FROM cache_entries WHERE key = ?
	`, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying cache entry %s: %w", key, err)
	}

	return value, true, nil
}

// GetMany returns the values stored under keys. Absent keys are omitted from
// the result.
func (r *CacheRepository) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := r.DB().QueryContext(ctx,
		"SELECT key, value FROM cache_entries WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("querying cache entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		values[key] = value
	}

	return values, rows.Err()
}

// SetMany upserts every entry in one transaction, so readers never observe
// a mix of old and new values.
func (r *CacheRepository) SetMany(ctx context.Context, entries map[string]string) error {
	now := r.Now()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return r.Transaction(func(tx *sql.Tx) error {
		for _, key := range keys {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			`, key, entries[key], now)
			if err != nil {
				return fmt.Errorf("writing cache entry %s: %w", key, err)
			}
		}
		return nil
	})
}

// Delete removes the given keys. Missing keys are ignored.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	return r.Transaction(func(tx *sql.Tx) error {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
				return fmt.Errorf("deleting cache entry %s: %w", key, err)
			}
		}
		return nil
	})
}

// List returns every stored entry ordered by key.
func (r *CacheRepository) List(ctx context.Context) ([]models.KeyValue, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT key, value, updated_at FROM cache_entries ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("querying cache entries: %w", err)
	}
	defer rows.Close()

	var entries []models.KeyValue
	for rows.Next() {
		var kv models.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value, &kv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		entries = append(entries, kv)
	}

	return entries, rows.Err()
}
