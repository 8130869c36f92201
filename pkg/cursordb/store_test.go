package cursordb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newStorePath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.vscdb")
	require.NoError(t, InitSchema(path))
	return path
}

func TestStoreWriteThenRead(t *testing.T) {
	path := newStorePath(t)

	w := Open(path)
	require.NoError(t, w.WriteItem(TableDiskKV, "composerData:abc", `{"name":"hello"}`))
	require.NoError(t, w.WriteJSON(TableItem, KeyComposerRegistry, map[string]any{
		"allComposers": []any{},
	}))
	require.NoError(t, w.Close())

	r := Open(path)
	defer func() { _ = r.Close() }()

	value, ok, err := r.GetItem(TableDiskKV, "composerData:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"name":"hello"}`, value)

	var top map[string]json.RawMessage
	ok, err = r.GetJSON(TableItem, KeyComposerRegistry, &top)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, top, "allComposers")
}

func TestStoreReadNeverTouchesOriginal(t *testing.T) {
	path := newStorePath(t)

	w := Open(path)
	require.NoError(t, w.WriteItem(TableDiskKV, "k", "v"))
	require.NoError(t, w.Close())

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	r := Open(path)
	_, _, err = r.GetItem(TableDiskKV, "k")
	require.NoError(t, err)
	_, err = r.ListKeys(TableDiskKV, "")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestStoreMissingFile(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "does-not-exist.vscdb"))
	defer func() { _ = s.Close() }()

	_, _, err := s.GetItem(TableItem, "anything")
	require.ErrorIs(t, err, ErrNoData)
}

func TestStoreMissingKeyAndTable(t *testing.T) {
	path := newStorePath(t)
	s := Open(path)
	defer func() { _ = s.Close() }()

	_, ok, err := s.GetItem(TableItem, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListKeysPrefix(t *testing.T) {
	path := newStorePath(t)

	w := Open(path)
	for _, k := range []string{"bubbleId:c1:b2", "bubbleId:c1:b1", "bubbleId:c2:b1", "composerData:c1"} {
		require.NoError(t, w.WriteItem(TableDiskKV, k, "{}"))
	}
	require.NoError(t, w.Close())

	r := Open(path)
	defer func() { _ = r.Close() }()

	keys, err := r.ListKeys(TableDiskKV, "bubbleId:c1:")
	require.NoError(t, err)
	require.Equal(t, []string{"bubbleId:c1:b1", "bubbleId:c1:b2"}, keys)
}

func TestBackup(t *testing.T) {
	path := newStorePath(t)
	require.NoError(t, os.WriteFile(path+"-wal", []byte("wal-bytes"), 0o644))

	backup, err := Backup(path)
	require.NoError(t, err)
	require.FileExists(t, backup)
	require.FileExists(t, backup+"-wal")

	orig, err := os.ReadFile(path)
	require.NoError(t, err)
	copied, err := os.ReadFile(backup)
	require.NoError(t, err)
	require.Equal(t, orig, copied)

	_, err = Backup(filepath.Join(t.TempDir(), "missing.vscdb"))
	require.ErrorIs(t, err, ErrNoData)
}
