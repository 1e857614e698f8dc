// Package kv provides a key-value namespace abstraction with pluggable
// backends: a durable local JSON file, SQLite, Bolt, and a remote managed
// namespace reached over HTTP. All backends share one contract, so callers
// never need to know which one a deployment is configured with.
package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// PutOptions contains optional parameters for Put operations.
type PutOptions struct {
	// TTL is the time-to-live after which the entry expires.
	// A non-positive TTL stores the entry without expiry.
	TTL time.Duration
}

// ListOptions contains optional parameters for List operations.
type ListOptions struct {
	// Prefix restricts the listing to keys starting with this string.
	// Empty means all keys.
	Prefix string
}

// Key describes a single key in a namespace listing.
type Key struct {
	Name string `json:"name"`
}

// Namespace is the interface for key-value namespace operations.
// Values are opaque strings; binary payloads go through the byte variants.
type Namespace interface {
	// Get retrieves the raw text value for key.
	// The second result is false if the key is absent or expired.
	Get(key string) (string, bool, error)

	// GetJSON retrieves the value for key and unmarshals it into out.
	// A stored value that is not valid JSON is an error.
	GetJSON(key string, out any) (bool, error)

	// GetBytes retrieves the value for key as a byte slice.
	GetBytes(key string) ([]byte, bool, error)

	// GetReader retrieves the value for key as a single-chunk stream.
	GetReader(key string) (io.ReadCloser, bool, error)

	// Put stores value under key, replacing any previous entry.
	// Options can specify a TTL for automatic expiry.
	Put(key, value string, opts *PutOptions) error

	// PutBytes stores a binary value under key.
	PutBytes(key string, value []byte, opts *PutOptions) error

	// Delete removes the entry for key. Deleting an absent key is not
	// an error.
	Delete(key string) error

	// List returns descriptors for all live keys matching opts.
	// Order is unspecified.
	List(opts *ListOptions) ([]Key, error)

	// Close releases any resources held by the backend.
	Close() error
}

// expiryMillis converts a TTL relative to now into an absolute epoch
// millisecond timestamp. Zero means no expiry.
func expiryMillis(opts *PutOptions) int64 {
	if opts == nil || opts.TTL <= 0 {
		return 0
	}
	return time.Now().Add(opts.TTL).UnixMilli()
}

// getJSON adapts a backend's text getter to the structured read format.
func getJSON(get func(key string) (string, bool, error), key string, out any) (bool, error) {
	raw, ok, err := get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("value for key %q is not valid JSON: %w", key, err)
	}
	return true, nil
}

// getBytes adapts a backend's text getter to the byte-buffer read format.
func getBytes(get func(key string) (string, bool, error), key string) ([]byte, bool, error) {
	raw, ok, err := get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return []byte(raw), true, nil
}

// getReader adapts a backend's text getter to the streaming read format.
// The stream delivers the whole value in one chunk.
func getReader(get func(key string) (string, bool, error), key string) (io.ReadCloser, bool, error) {
	raw, ok, err := get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return io.NopCloser(bytes.NewReader([]byte(raw))), true, nil
}
