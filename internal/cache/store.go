// Package cache is the service-side analog of the dashboard's
// localStorage: a best-effort local key-value store backed by SQLite.
// Entries survive restarts; every storage failure degrades to a cache
// miss rather than an error the caller has to care about.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one cached payload with its write time and the schema
// version it was written under.
type Entry struct {
	Payload       string
	Timestamp     time.Time
	SchemaVersion string
}

// FreshWithin reports whether the entry was written within ttl of now.
// Freshness policy belongs to the caller; the store never auto-expires.
func (e *Entry) FreshWithin(ttl time.Duration) bool {
	return time.Since(e.Timestamp) < ttl
}

// Store persists cached payloads and small UI preferences.
type Store struct {
	db      *sql.DB
	version string
}

// Open creates or opens the cache database at path. schemaVersion tags
// every write; entries written under a different version read back as
// misses.
func Open(path, schemaVersion string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}
	return &Store{db: db, version: schemaVersion}, nil
}

func migrate(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			schema_version TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Get returns the cached entry for key, or nil on a miss. A read error,
// a corrupted row, or a schema-version mismatch all behave as misses.
func (s *Store) Get(ctx context.Context, key string) *Entry {
	var payload, version string
	var millis int64
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, timestamp, schema_version FROM entries WHERE key = ?", key,
	).Scan(&payload, &millis, &version)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[cache] read failed for %q: %v", key, err)
		}
		return nil
	}
	if version != s.version {
		return nil
	}
	return &Entry{
		Payload:       payload,
		Timestamp:     time.UnixMilli(millis),
		SchemaVersion: version,
	}
}

// Set stores payload under key with the current time and schema version.
func (s *Store) Set(ctx context.Context, key, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, payload, timestamp, schema_version) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload,
			timestamp = excluded.timestamp, schema_version = excluded.schema_version`,
		key, payload, time.Now().UnixMilli(), s.version)
	if err != nil {
		return fmt.Errorf("cache write failed for %q: %w", key, err)
	}
	return nil
}

// Clear removes the entry for key, if any.
func (s *Store) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("cache clear failed for %q: %w", key, err)
	}
	return nil
}

// GetPreference reads a persisted UI preference. Absent or unreadable
// preferences report ok=false and are safely ignorable.
func (s *Store) GetPreference(ctx context.Context, key string) (value string, ok bool) {
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[cache] preference read failed for %q: %v", key, err)
		}
		return "", false
	}
	return value, true
}

// SetPreference stores a UI preference.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("preference write failed for %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
