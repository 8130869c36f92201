package cursordb

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRegistryEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.vscdb")
	require.NoError(t, InitSchema(path))
	s := Open(path)
	defer func() { _ = s.Close() }()

	reg, err := LoadRegistry(s)
	require.NoError(t, err)
	entries, err := reg.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRegistryUpsertAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.vscdb")
	require.NoError(t, InitSchema(path))

	seed := Open(path)
	require.NoError(t, seed.WriteJSON(TableItem, KeyComposerRegistry, map[string]any{
		"allComposers": []any{
			map[string]any{"composerId": "c1", "name": "first", "lastUpdatedAt": 100},
		},
		"selectedComposerIds": []any{"c1"},
		"somethingElse":       42,
	}))
	require.NoError(t, seed.Close())

	s := Open(path)
	reg, err := LoadRegistry(s)
	require.NoError(t, err)

	// replace c1, append c2
	require.NoError(t, reg.Upsert(RegistryEntry{ComposerID: "c1", Name: "first renamed", LastUpdatedAt: 200}))
	require.NoError(t, reg.Upsert(RegistryEntry{ComposerID: "c2", Name: "second", LastUpdatedAt: 300}))
	require.NoError(t, reg.Save(s))
	require.NoError(t, s.Close())

	reread := Open(path)
	defer func() { _ = reread.Close() }()
	reloaded, err := LoadRegistry(reread)
	require.NoError(t, err)

	entries, err := reloaded.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "c1", entries[0].ComposerID)
	require.Equal(t, "first renamed", entries[0].Name)
	require.Equal(t, int64(200), entries[0].LastUpdatedAt)
	require.Equal(t, "c2", entries[1].ComposerID)

	e, ok, err := reloaded.Lookup("c2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", e.Name)

	// top-level keys the engine does not understand survive a save
	var top map[string]json.RawMessage
	ok, err = reread.GetJSON(TableItem, KeyComposerRegistry, &top)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, "42", string(top["somethingElse"]))
	require.JSONEq(t, `["c1","c2"]`, string(top["selectedComposerIds"]))
}

func TestRegistryUpsertPreservesUnknownEntryFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.vscdb")
	require.NoError(t, InitSchema(path))

	seed := Open(path)
	require.NoError(t, seed.WriteJSON(TableItem, KeyComposerRegistry, map[string]any{
		"allComposers": []any{
			map[string]any{"composerId": "c1", "name": "old", "lastUpdatedAt": 100, "customIcon": "rocket"},
		},
	}))
	require.NoError(t, seed.Close())

	s := Open(path)
	reg, err := LoadRegistry(s)
	require.NoError(t, err)
	require.NoError(t, reg.Upsert(RegistryEntry{ComposerID: "c1", Name: "new", LastUpdatedAt: 200}))
	require.NoError(t, reg.Save(s))
	require.NoError(t, s.Close())

	reread := Open(path)
	defer func() { _ = reread.Close() }()
	var top struct {
		AllComposers []map[string]json.RawMessage `json:"allComposers"`
	}
	ok, err := reread.GetJSON(TableItem, KeyComposerRegistry, &top)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, top.AllComposers, 1)
	require.JSONEq(t, `"rocket"`, string(top.AllComposers[0]["customIcon"]), "fields the engine does not understand survive an update")
	require.JSONEq(t, `"new"`, string(top.AllComposers[0]["name"]))
	require.JSONEq(t, `200`, string(top.AllComposers[0]["lastUpdatedAt"]))
}

func TestRegistryUpsertSelectedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.vscdb")
	require.NoError(t, InitSchema(path))
	s := Open(path)
	defer func() { _ = s.Close() }()

	reg, err := LoadRegistry(s)
	require.NoError(t, err)
	require.NoError(t, reg.Upsert(RegistryEntry{ComposerID: "c1"}))
	require.NoError(t, reg.Upsert(RegistryEntry{ComposerID: "c1", Name: "again"}))

	require.Equal(t, []string{"c1"}, reg.selected)
	entries, err := reg.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
