package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatvault/pkg/cursordb"
	"github.com/go-go-golems/chatvault/pkg/identity"
	"github.com/go-go-golems/chatvault/pkg/snapshot"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

type fixture struct {
	env        workspace.Env
	vault      workspace.Vault
	projectDir string
	blob       []byte
	hash       string
}

// seedStores builds a fake editor installation: one workspace bound to
// projectDir with two registered conversations, and a global store
// holding their bodies, bubbles, contexts and one shared content blob.
func seedStores(t *testing.T) fixture {
	t.Helper()

	f := fixture{
		env:        workspace.Env{UserDir: t.TempDir()},
		vault:      workspace.Vault{Dir: filepath.Join(t.TempDir(), "vault")},
		projectDir: t.TempDir(),
		blob:       []byte("one large pasted file, stored once"),
	}
	f.hash = snapshot.HashContent(f.blob)

	wsDir := filepath.Join(f.env.StorageDir(), "aaa")
	require.NoError(t, os.MkdirAll(wsDir, 0o755))
	marker, err := json.Marshal(map[string]string{"folder": "file://" + f.projectDir})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(wsDir, "workspace.json"), marker, 0o644))

	wsDB := filepath.Join(wsDir, "state.vscdb")
	require.NoError(t, cursordb.InitSchema(wsDB))
	ws := cursordb.Open(wsDB)
	require.NoError(t, ws.WriteJSON(cursordb.TableItem, cursordb.KeyComposerRegistry, map[string]any{
		"allComposers": []any{
			map[string]any{"composerId": "conv-1", "name": "first", "createdAt": 100, "lastUpdatedAt": 200, "unifiedMode": "agent"},
			map[string]any{"composerId": "conv-2", "name": "second", "createdAt": 300, "lastUpdatedAt": 400, "unifiedMode": "chat"},
		},
		"selectedComposerIds": []any{"conv-1", "conv-2"},
	}))
	require.NoError(t, ws.Close())

	globalPath := f.env.GlobalDBPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(globalPath), 0o755))
	require.NoError(t, cursordb.InitSchema(globalPath))
	global := cursordb.Open(globalPath)
	for i, id := range []string{"conv-1", "conv-2"} {
		body := fmt.Sprintf(`{"name":"conversation %d","createdAt":%d,"lastUpdatedAt":%d,"unifiedMode":"agent","fullConversationHeadersOnly":[{"bubbleId":"b1","type":1}]}`,
			i+1, (i+1)*100, (i+1)*100+100)
		require.NoError(t, global.WriteItem(cursordb.TableDiskKV, cursordb.PrefixComposerData+id, body))
		bubble := fmt.Sprintf(`{"type":1,"text":"pasted as %s"}`, f.hash)
		require.NoError(t, global.WriteItem(cursordb.TableDiskKV, cursordb.PrefixBubble+id+":b1", bubble))
		require.NoError(t, global.WriteItem(cursordb.TableDiskKV, cursordb.PrefixMessageContext+id+":k1", `{"cwd":"/somewhere"}`))
	}
	require.NoError(t, global.WriteItem(cursordb.TableDiskKV, cursordb.PrefixContentBlob+f.hash, string(f.blob)))
	require.NoError(t, global.Close())

	return f
}

func TestPassExportsConversations(t *testing.T) {
	f := seedStores(t)
	pass := &Pass{Env: f.env, Vault: f.vault, ProjectPath: f.projectDir}

	res, err := pass.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Conversations)
	require.Equal(t, 2, res.Exported)
	require.Equal(t, 0, res.Unchanged)
	require.Empty(t, res.Warnings)

	projectID := identity.Resolve(f.projectDir)
	require.Equal(t, projectID, res.ProjectID)

	docPath := filepath.Join(f.vault.ProjectDir(projectID), "conv-1.json")
	data, err := os.ReadFile(docPath)
	require.NoError(t, err)
	doc, err := snapshot.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, projectID, doc.ProjectID)
	require.Equal(t, f.projectDir, doc.SourcePath)
	require.Equal(t, "conv-1", doc.ConversationID)
	require.Contains(t, doc.Bubbles, "b1")
	require.Contains(t, doc.Contexts, "k1")
	require.Equal(t, []snapshot.BlobRef{{Hash: f.hash}}, doc.Blobs)

	// the shared blob is cached exactly once
	cached, err := os.ReadFile(filepath.Join(f.vault.BlobsDir(), f.hash))
	require.NoError(t, err)
	require.Equal(t, f.blob, cached)

	require.FileExists(t, f.vault.ManifestPath())
}

func TestPassIsIdempotent(t *testing.T) {
	f := seedStores(t)
	pass := &Pass{Env: f.env, Vault: f.vault, ProjectPath: f.projectDir}

	_, err := pass.Run(context.Background())
	require.NoError(t, err)

	projectID := identity.Resolve(f.projectDir)
	docPath := filepath.Join(f.vault.ProjectDir(projectID), "conv-1.json")
	before, err := os.ReadFile(docPath)
	require.NoError(t, err)
	st, err := os.Stat(docPath)
	require.NoError(t, err)

	res, err := pass.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Exported, "an unchanged source must produce zero writes")
	require.Equal(t, 2, res.Unchanged)

	after, err := os.ReadFile(docPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
	st2, err := os.Stat(docPath)
	require.NoError(t, err)
	require.Equal(t, st.ModTime(), st2.ModTime(), "the document file must not be rewritten")
}

func TestPassNoWorkspace(t *testing.T) {
	env := workspace.Env{UserDir: t.TempDir()}
	vault := workspace.Vault{Dir: filepath.Join(t.TempDir(), "vault")}
	pass := &Pass{Env: env, Vault: vault, ProjectPath: t.TempDir()}

	res, err := pass.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Conversations)
	require.NoDirExists(t, vault.SnapshotsDir(), "nothing to export must not create vault structure")
}

func TestPassCapturesTranscript(t *testing.T) {
	f := seedStores(t)
	f.env.ProjectsDir = t.TempDir()

	flattened := strings.ReplaceAll(strings.TrimPrefix(f.projectDir, "/"), "/", "-")
	transcriptDir := filepath.Join(f.env.ProjectsDir, flattened, "agent-transcripts")
	require.NoError(t, os.MkdirAll(transcriptDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(transcriptDir, "conv-1.txt"), []byte("agent did things\n"), 0o644))

	pass := &Pass{Env: f.env, Vault: f.vault, ProjectPath: f.projectDir}
	_, err := pass.Run(context.Background())
	require.NoError(t, err)

	projectID := identity.Resolve(f.projectDir)
	read := func(id string) *snapshot.Document {
		data, err := os.ReadFile(filepath.Join(f.vault.ProjectDir(projectID), id+".json"))
		require.NoError(t, err)
		doc, err := snapshot.Unmarshal(data)
		require.NoError(t, err)
		return doc
	}
	require.Equal(t, "agent did things\n", read("conv-1").Transcript)
	require.Empty(t, read("conv-2").Transcript, "conversations without a transcript carry none")
}

func TestPassMissingBodyIsWarning(t *testing.T) {
	f := seedStores(t)

	// register a conversation whose body never made it to the global
	// store; the pass reports it and keeps going
	wsDB := filepath.Join(f.env.StorageDir(), "aaa", "state.vscdb")
	ws := cursordb.Open(wsDB)
	reg, err := cursordb.LoadRegistry(ws)
	require.NoError(t, err)
	require.NoError(t, reg.Upsert(cursordb.RegistryEntry{ComposerID: "conv-ghost", Name: "ghost", LastUpdatedAt: 500}))
	require.NoError(t, reg.Save(ws))
	require.NoError(t, ws.Close())

	pass := &Pass{Env: f.env, Vault: f.vault, ProjectPath: f.projectDir}
	res, err := pass.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Conversations)
	require.Equal(t, 2, res.Exported)
	require.NotEmpty(t, res.Warnings)
}
