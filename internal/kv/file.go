package kv

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// fileEntry is a single value in the snapshot file.
type fileEntry struct {
	Value string `json:"value"`
	// Expiry is an absolute epoch millisecond timestamp.
	// Zero (omitted) means no expiry.
	Expiry int64 `json:"expiry,omitempty"`
}

// expired returns true if the entry's expiry has passed at now (millis).
func (e fileEntry) expired(now int64) bool {
	return e.Expiry > 0 && e.Expiry <= now
}

// FileNamespace is a namespace held entirely in memory and mirrored to a
// single JSON snapshot file. Every mutation rewrites the full snapshot.
// Persistence failures degrade the namespace to in-memory only: they are
// logged and the in-memory mapping remains the source of truth for the rest
// of the process lifetime.
//
// One FileNamespace owns exactly one backing file. Concurrent processes
// writing to the same file are not coordinated.
type FileNamespace struct {
	path    string
	mu      sync.Mutex
	entries map[string]fileEntry
}

// NewFile opens a file-backed namespace at path, creating parent directories
// as needed. A missing snapshot starts the namespace empty; an unreadable or
// unparseable snapshot is logged and also starts it empty, so construction
// never fails.
func NewFile(path string) *FileNamespace {
	ns := &FileNamespace{
		path:    path,
		entries: make(map[string]fileEntry),
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to create snapshot directory")
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read snapshot, starting empty")
		}
		return ns
	}

	if err := json.Unmarshal(data, &ns.entries); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Snapshot is not valid JSON, starting empty")
		ns.entries = make(map[string]fileEntry)
	} else {
		log.Debug().Str("path", path).Int("keys", len(ns.entries)).Msg("Loaded snapshot")
	}

	return ns
}

// get returns the live entry for key, evicting expired entries first.
func (ns *FileNamespace) get(key string) (fileEntry, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.compactLocked()
	e, ok := ns.entries[key]
	return e, ok
}

// Get retrieves the raw text value for key.
func (ns *FileNamespace) Get(key string) (string, bool, error) {
	e, ok := ns.get(key)
	if !ok {
		return "", false, nil
	}
	return e.Value, true, nil
}

// GetJSON retrieves the value for key parsed as JSON into out.
func (ns *FileNamespace) GetJSON(key string, out any) (bool, error) {
	return getJSON(ns.Get, key, out)
}

// GetBytes retrieves the value for key as a byte slice.
func (ns *FileNamespace) GetBytes(key string) ([]byte, bool, error) {
	return getBytes(ns.Get, key)
}

// GetReader retrieves the value for key as a single-chunk stream.
func (ns *FileNamespace) GetReader(key string) (io.ReadCloser, bool, error) {
	return getReader(ns.Get, key)
}

// Put stores value under key. The snapshot is rewritten before returning;
// a failed write is logged, not returned.
func (ns *FileNamespace) Put(key, value string, opts *PutOptions) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.entries[key] = fileEntry{
		Value:  value,
		Expiry: expiryMillis(opts),
	}
	ns.persistLocked()
	return nil
}

// PutBytes stores a binary value under key.
func (ns *FileNamespace) PutBytes(key string, value []byte, opts *PutOptions) error {
	return ns.Put(key, string(value), opts)
}

// Delete removes the entry for key if present and rewrites the snapshot.
func (ns *FileNamespace) Delete(key string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	delete(ns.entries, key)
	ns.persistLocked()
	return nil
}

// List returns descriptors for all live keys starting with opts.Prefix,
// evicting expired entries first.
func (ns *FileNamespace) List(opts *ListOptions) ([]Key, error) {
	prefix := ""
	if opts != nil {
		prefix = opts.Prefix
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.compactLocked()

	keys := make([]Key, 0, len(ns.entries))
	for key := range ns.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, Key{Name: key})
		}
	}
	return keys, nil
}

// Close is a no-op; the last successful snapshot write is the durable state.
func (ns *FileNamespace) Close() error {
	return nil
}

// compactLocked removes expired entries and, if any were removed, rewrites
// the snapshot so expired data never survives to the next write.
// Caller must hold ns.mu.
func (ns *FileNamespace) compactLocked() {
	now := time.Now().UnixMilli()

	evicted := 0
	for key, e := range ns.entries {
		if e.expired(now) {
			delete(ns.entries, key)
			evicted++
		}
	}

	if evicted > 0 {
		log.Debug().Int("count", evicted).Str("path", ns.path).Msg("Evicted expired entries")
		ns.persistLocked()
	}
}

// persistLocked rewrites the snapshot file with the full mapping. The write
// goes through a temp file and rename so the previous snapshot survives a
// failed write. Caller must hold ns.mu.
func (ns *FileNamespace) persistLocked() {
	data, err := json.Marshal(ns.entries)
	if err != nil {
		log.Error().Err(err).Str("path", ns.path).Msg("Failed to encode snapshot")
		return
	}

	tmp := ns.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", ns.path).Msg("Failed to write snapshot")
		return
	}
	if err := os.Rename(tmp, ns.path); err != nil {
		log.Error().Err(err).Str("path", ns.path).Msg("Failed to replace snapshot")
	}
}
