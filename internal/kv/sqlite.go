package kv

import (
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"
)

// SQLiteNamespace is a namespace persisted in a SQLite table. Expired rows
// are deleted lazily on the access that observes them.
type SQLiteNamespace struct {
	db *sql.DB
}

// NewSQLite creates a namespace backed by an open SQLite database.
// The kv_entries schema must already be initialized (see internal/db).
func NewSQLite(db *sql.DB) *SQLiteNamespace {
	return &SQLiteNamespace{db: db}
}

// Get retrieves the raw text value for key.
func (ns *SQLiteNamespace) Get(key string) (string, bool, error) {
	var value string
	var expiresAt sql.NullInt64

	err := ns.db.QueryRow(`
		SELECT value, expires_at FROM kv_entries WHERE key = ?
	`, key).Scan(&value, &expiresAt)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get value: %w", err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixMilli() {
		// Expired - delete and report missing
		_, _ = ns.db.Exec(`DELETE FROM kv_entries WHERE key = ?`, key)
		return "", false, nil
	}

	return value, true, nil
}

// GetJSON retrieves the value for key parsed as JSON into out.
func (ns *SQLiteNamespace) GetJSON(key string, out any) (bool, error) {
	return getJSON(ns.Get, key, out)
}

// GetBytes retrieves the value for key as a byte slice.
func (ns *SQLiteNamespace) GetBytes(key string) ([]byte, bool, error) {
	return getBytes(ns.Get, key)
}

// GetReader retrieves the value for key as a single-chunk stream.
func (ns *SQLiteNamespace) GetReader(key string) (io.ReadCloser, bool, error) {
	return getReader(ns.Get, key)
}

// Put stores value under key, replacing any previous entry.
func (ns *SQLiteNamespace) Put(key, value string, opts *PutOptions) error {
	now := time.Now().UnixMilli()

	var expiresAt *int64
	if exp := expiryMillis(opts); exp > 0 {
		expiresAt = &exp
	}

	_, err := ns.db.Exec(`
		INSERT INTO kv_entries (key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, value, expiresAt, now, now)

	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}
	return nil
}

// PutBytes stores a binary value under key.
func (ns *SQLiteNamespace) PutBytes(key string, value []byte, opts *PutOptions) error {
	return ns.Put(key, string(value), opts)
}

// Delete removes the entry for key. Absent keys are not an error.
func (ns *SQLiteNamespace) Delete(key string) error {
	_, err := ns.db.Exec(`DELETE FROM kv_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// List returns descriptors for all live keys starting with opts.Prefix.
// Expired rows are purged before listing.
func (ns *SQLiteNamespace) List(opts *ListOptions) ([]Key, error) {
	prefix := ""
	if opts != nil {
		prefix = opts.Prefix
	}

	now := time.Now().UnixMilli()

	// Purge expired rows so the listing and the table agree
	_, _ = ns.db.Exec(`
		DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, now)

	rows, err := ns.db.Query(`SELECT key FROM kv_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]Key, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, Key{Name: key})
		}
	}

	return keys, rows.Err()
}

// Close closes the underlying database.
func (ns *SQLiteNamespace) Close() error {
	return ns.db.Close()
}
