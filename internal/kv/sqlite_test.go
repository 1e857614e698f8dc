package kv

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasyidrafi/localkv/internal/db"
)

func openSQLite(t *testing.T, path string) (*SQLiteNamespace, *db.DB) {
	t.Helper()
	database, err := db.Open(path)
	require.NoError(t, err)
	return NewSQLite(database.DB), database
}

func TestSQLiteExpiredRowDeletedOnGet(t *testing.T) {
	ns, database := openSQLite(t, filepath.Join(t.TempDir(), "kv.sqlite"))
	defer ns.Close()

	require.NoError(t, ns.Put("short", "x", &PutOptions{TTL: 30 * time.Millisecond}))
	time.Sleep(60 * time.Millisecond)

	_, ok, err := ns.Get("short")
	require.NoError(t, err)
	require.False(t, ok)

	// The access must have removed the row, not just hidden it
	var count int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM kv_entries WHERE key = ?`, "short").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSQLiteListPurgesExpiredRows(t *testing.T) {
	ns, database := openSQLite(t, filepath.Join(t.TempDir(), "kv.sqlite"))
	defer ns.Close()

	require.NoError(t, ns.Put("live", "a", nil))
	require.NoError(t, ns.Put("dead", "b", &PutOptions{TTL: 30 * time.Millisecond}))
	time.Sleep(60 * time.Millisecond)

	keys, err := ns.List(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, keyNames(keys))

	var count int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM kv_entries`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteRestartDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.sqlite")

	ns, _ := openSQLite(t, path)
	require.NoError(t, ns.Put("a", "1", nil))
	require.NoError(t, ns.Close())

	ns, _ = openSQLite(t, path)
	defer ns.Close()

	val, ok, err := ns.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", val)
}
