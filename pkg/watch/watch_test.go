package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatvault/pkg/workspace"
)

func TestFingerprintTracksStoreChanges(t *testing.T) {
	env := workspace.Env{UserDir: t.TempDir()}
	projectDir := t.TempDir()

	globalPath := env.GlobalDBPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(globalPath), 0o755))
	require.NoError(t, os.WriteFile(globalPath, []byte("v1"), 0o644))
	base := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(globalPath, base, base))

	w := &Watcher{Env: env}

	fp1, err := w.Fingerprint(projectDir)
	require.NoError(t, err)
	fp2, err := w.Fingerprint(projectDir)
	require.NoError(t, err)
	require.Equal(t, fp1, fp2, "an unchanged store must fingerprint identically")

	require.NoError(t, os.WriteFile(globalPath, []byte("v2 with more bytes"), 0o644))
	require.NoError(t, os.Chtimes(globalPath, base.Add(time.Second), base.Add(time.Second)))
	fp3, err := w.Fingerprint(projectDir)
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp3)

	// WAL growth counts as a change even when the main file is untouched
	require.NoError(t, os.WriteFile(globalPath+"-wal", []byte("frames"), 0o644))
	fp4, err := w.Fingerprint(projectDir)
	require.NoError(t, err)
	require.NotEqual(t, fp3, fp4)
}

func TestRunSurvivesBrokenProject(t *testing.T) {
	// workspaceStorage is a regular file, so every fingerprint of this
	// project fails; the loop must keep polling instead of stopping the
	// whole watcher
	env := workspace.Env{UserDir: t.TempDir()}
	require.NoError(t, os.WriteFile(env.StorageDir(), []byte("not a directory"), 0o644))

	w := &Watcher{
		Env:          env,
		Vault:        workspace.Vault{Dir: filepath.Join(t.TempDir(), "vault")},
		ProjectPaths: []string{t.TempDir()},
		Interval:     10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx), "a broken project store is logged, not fatal")
}

func TestRunStopsOnCancel(t *testing.T) {
	env := workspace.Env{UserDir: t.TempDir()}
	vault := workspace.Vault{Dir: filepath.Join(t.TempDir(), "vault")}

	w := &Watcher{
		Env:          env,
		Vault:        vault,
		ProjectPaths: []string{t.TempDir()},
		Interval:     10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err, "cancellation is a clean shutdown, not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}
