// Package store persists the curated record list and per-session UI flags.
//
// The record list lives in one named slot as a single JSON blob. There are no
// partial updates, no transactions and no versioning: callers load, modify and
// save the whole list, and the last writer wins.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/robertmeta/podcatch/model"
	_ "modernc.org/sqlite"
)

// ListKey is the name of the slot holding the record list.
const ListKey = "podcast-list"

// ErrCorrupt is returned when the stored list cannot be decoded.
var ErrCorrupt = errors.New("stored record list is corrupt")

// Records loads and saves the whole record list.
type Records interface {
	Load(ctx context.Context) (model.List, error)
	Save(ctx context.Context, list model.List) error
}

// Flags stores string flags scoped by session and scope (a page origin).
type Flags interface {
	GetFlag(ctx context.Context, session, scope, name string) (string, bool, error)
	SetFlag(ctx context.Context, session, scope, name, value string) error
}

// Backend is a store that holds both the record list and session flags.
type Backend interface {
	Records
	Flags
	Close() error
}

// Open opens the backend named by driver ("sqlite" or "bolt") at path.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case "", "sqlite":
		return New(path)
	case "bolt":
		return NewBolt(path)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
}

// Store manages the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path.
// Use ":memory:" for an in-memory database (useful for testing).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// createSchema creates the database tables.
func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_flags (
		session TEXT NOT NULL,
		scope TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (session, scope, name)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Load returns the stored record list.
// A slot that was never written yields an empty list, not an error.
func (s *Store) Load(ctx context.Context) (model.List, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", ListKey).Scan(&value)
	if err == sql.ErrNoRows {
		return model.List{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record list: %w", err)
	}

	return decodeList([]byte(value))
}

// Save replaces the stored record list.
func (s *Store) Save(ctx context.Context, list model.List) error {
	data, err := encodeList(list)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		ListKey, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save record list: %w", err)
	}
	return nil
}

// GetFlag retrieves a session flag. The boolean reports whether it was set.
func (s *Store) GetFlag(ctx context.Context, session, scope, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM session_flags WHERE session = ? AND scope = ? AND name = ?",
		session, scope, name,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get flag: %w", err)
	}
	return value, true, nil
}

// SetFlag saves a session flag.
func (s *Store) SetFlag(ctx context.Context, session, scope, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_flags (session, scope, name, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(session, scope, name) DO UPDATE SET value = excluded.value`,
		session, scope, name, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}
	return nil
}

func encodeList(list model.List) ([]byte, error) {
	if list == nil {
		list = model.List{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record list: %w", err)
	}
	return data, nil
}

func decodeList(data []byte) (model.List, error) {
	var list model.List
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if list == nil {
		list = model.List{}
	}
	return list, nil
}
