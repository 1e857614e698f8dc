package kv

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data", "kv.json")
}

func TestFileRestartDurability(t *testing.T) {
	path := snapshotPath(t)

	ns := NewFile(path)
	require.NoError(t, ns.Put("a", "1", nil))
	require.NoError(t, ns.Put("session:1", `{"user":"x"}`, nil))

	// Simulate a restart by constructing a fresh instance on the same path
	ns = NewFile(path)

	val, ok, err := ns.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", val)

	val, ok, err = ns.Get("session:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"user":"x"}`, val)
}

func TestFileExpiredEntriesDoNotSurviveRestart(t *testing.T) {
	path := snapshotPath(t)

	ns := NewFile(path)
	require.NoError(t, ns.Put("short", "gone", &PutOptions{TTL: 30 * time.Millisecond}))
	require.NoError(t, ns.Put("keep", "here", nil))

	time.Sleep(60 * time.Millisecond)

	ns = NewFile(path)
	_, ok, err := ns.Get("short")
	require.NoError(t, err)
	assert.False(t, ok)

	val, ok, err := ns.Get("keep")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "here", val)
}

func TestFileEvictionRewritesSnapshot(t *testing.T) {
	path := snapshotPath(t)

	ns := NewFile(path)
	require.NoError(t, ns.Put("short", "gone", &PutOptions{TTL: 30 * time.Millisecond}))
	require.NoError(t, ns.Put("keep", "here", nil))

	time.Sleep(60 * time.Millisecond)

	// The read both hides and evicts the expired entry
	_, ok, err := ns.Get("short")
	require.NoError(t, err)
	assert.False(t, ok)

	// The snapshot on disk must already reflect the eviction
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var snapshot map[string]fileEntry
	require.NoError(t, json.Unmarshal(raw, &snapshot))
	assert.NotContains(t, snapshot, "short")
	assert.Contains(t, snapshot, "keep")
}

func TestFileSnapshotFormat(t *testing.T) {
	path := snapshotPath(t)

	before := time.Now().UnixMilli()
	ns := NewFile(path)
	require.NoError(t, ns.Put("oauth:token:abc", `{"access_token":"..."}`, &PutOptions{TTL: time.Hour}))
	require.NoError(t, ns.Put("plain", "text", nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var snapshot map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &snapshot))

	entry := snapshot["oauth:token:abc"]
	require.NotNil(t, entry)
	assert.Equal(t, `{"access_token":"..."}`, entry["value"])

	expiry, isNumber := entry["expiry"].(float64)
	require.True(t, isNumber, "expiry must be a numeric epoch millisecond timestamp")
	assert.GreaterOrEqual(t, int64(expiry), before+time.Hour.Milliseconds())

	// Entries without TTL carry no expiry field at all
	assert.NotContains(t, snapshot["plain"], "expiry")
}

func TestFileMalformedSnapshotStartsEmpty(t *testing.T) {
	path := snapshotPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	ns := NewFile(path)

	keys, err := ns.List(nil)
	require.NoError(t, err)
	assert.Empty(t, keys)

	// The store must still be usable
	require.NoError(t, ns.Put("a", "1", nil))
	val, ok, err := ns.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", val)
}

func TestFilePersistFailureKeepsMemoryState(t *testing.T) {
	// Block directory creation with a regular file so every write fails
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	path := filepath.Join(blocker, "sub", "kv.json")

	ns := NewFile(path)

	// Writes fail silently; the in-memory mapping stays authoritative
	require.NoError(t, ns.Put("a", "1", nil))
	val, ok, err := ns.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", val)

	require.NoError(t, ns.Delete("a"))
	_, ok, err = ns.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileSessionScenario(t *testing.T) {
	ns := NewFile(snapshotPath(t))

	require.NoError(t, ns.Put("session:1", `{"user":"x"}`, &PutOptions{TTL: 40 * time.Millisecond}))

	var session struct {
		User string `json:"user"`
	}
	ok, err := ns.GetJSON("session:1", &session)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", session.User)

	time.Sleep(70 * time.Millisecond)

	_, ok, err = ns.Get("session:1")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := ns.List(&ListOptions{Prefix: "session:"})
	require.NoError(t, err)
	assert.Empty(t, keys)
}
