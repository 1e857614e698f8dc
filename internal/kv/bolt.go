package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// boltBucket is the single bucket all entries live in.
var boltBucket = []byte("kv")

// BoltNamespace is a namespace persisted in a Bolt database. Each value is
// stored as an 8-byte big-endian expiry-millis prefix followed by the raw
// payload; zero expiry means the entry never expires.
type BoltNamespace struct {
	db *bolt.DB
}

// OpenBolt opens or creates a Bolt-backed namespace at path, creating parent
// directories as needed.
func OpenBolt(path string) (*BoltNamespace, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltNamespace{db: db}, nil
}

func encodeBoltValue(value string, expiry int64) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiry))
	copy(buf[8:], value)
	return buf
}

func decodeBoltValue(raw []byte) (value []byte, expiry int64) {
	return raw[8:], int64(binary.BigEndian.Uint64(raw[:8]))
}

// Get retrieves the raw text value for key.
func (ns *BoltNamespace) Get(key string) (string, bool, error) {
	var out string
	var found bool
	var expired bool

	if err := ns.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		payload, expiry := decodeBoltValue(raw)
		if expiry > 0 && expiry <= time.Now().UnixMilli() {
			expired = true
			return nil
		}
		found = true
		out = string(payload)
		return nil
	}); err != nil {
		return "", false, fmt.Errorf("failed to get value: %w", err)
	}

	if expired {
		// Lazy deletion of the expired entry
		_ = ns.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(boltBucket).Delete([]byte(key))
		})
	}

	return out, found, nil
}

// GetJSON retrieves the value for key parsed as JSON into out.
func (ns *BoltNamespace) GetJSON(key string, out any) (bool, error) {
	return getJSON(ns.Get, key, out)
}

// GetBytes retrieves the value for key as a byte slice.
func (ns *BoltNamespace) GetBytes(key string) ([]byte, bool, error) {
	return getBytes(ns.Get, key)
}

// GetReader retrieves the value for key as a single-chunk stream.
func (ns *BoltNamespace) GetReader(key string) (io.ReadCloser, bool, error) {
	return getReader(ns.Get, key)
}

// Put stores value under key, replacing any previous entry.
func (ns *BoltNamespace) Put(key, value string, opts *PutOptions) error {
	buf := encodeBoltValue(value, expiryMillis(opts))

	err := ns.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), buf)
	})
	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}
	return nil
}

// PutBytes stores a binary value under key.
func (ns *BoltNamespace) PutBytes(key string, value []byte, opts *PutOptions) error {
	return ns.Put(key, string(value), opts)
}

// Delete removes the entry for key. Absent keys are not an error.
func (ns *BoltNamespace) Delete(key string) error {
	err := ns.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// List returns descriptors for all live keys starting with opts.Prefix.
// Expired entries encountered during the scan are deleted.
func (ns *BoltNamespace) List(opts *ListOptions) ([]Key, error) {
	prefix := []byte("")
	if opts != nil {
		prefix = []byte(opts.Prefix)
	}

	now := time.Now().UnixMilli()
	keys := make([]Key, 0)

	err := ns.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			_, expiry := decodeBoltValue(v)
			if expiry > 0 && expiry <= now {
				if err := c.Delete(); err != nil {
					return err
				}
				continue
			}
			if bytes.HasPrefix(k, prefix) {
				keys = append(keys, Key{Name: string(k)})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	return keys, nil
}

// Close closes the underlying database.
func (ns *BoltNamespace) Close() error {
	return ns.db.Close()
}
