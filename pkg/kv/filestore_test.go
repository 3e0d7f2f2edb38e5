package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFileStoreSetGet(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "kv"))
	require.NoError(t, err)

	require.NoError(t, store.Set("ban:qq:123", sample{Name: "x", Count: 2}))

	var out sample
	ok, err := store.Get("ban:qq:123", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sample{Name: "x", Count: 2}, out)
}

func TestFileStoreGetMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	var out sample
	ok, err := store.Get("missing", &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreDeleteIsNoopWhenMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Delete("never-set"))
}

func TestFileStoreKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("a", sample{}))
	require.NoError(t, store.Set("b", sample{}))

	keys, err := store.Keys()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, store.Delete("a"))
	keys, err = store.Keys()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b"}, keys)
}
