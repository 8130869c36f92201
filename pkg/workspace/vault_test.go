package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVaultLayout(t *testing.T) {
	v := Vault{Dir: "/vault"}
	require.Equal(t, "/vault/snapshots", v.SnapshotsDir())
	require.Equal(t, filepath.Join("/vault/snapshots", "github.com-acme-widgets"), v.ProjectDir("github.com-acme-widgets"))
	require.Equal(t, "/vault/blobs", v.BlobsDir())
	require.Equal(t, "/vault/vault.yaml", v.ManifestPath())
}

func TestEnsureManifest(t *testing.T) {
	v := Vault{Dir: filepath.Join(t.TempDir(), "vault")}

	m, err := v.ReadManifest()
	require.NoError(t, err)
	require.Equal(t, Manifest{}, m, "a missing manifest reads as zero, not as an error")

	require.NoError(t, v.EnsureManifest())
	m, err = v.ReadManifest()
	require.NoError(t, err)
	require.Equal(t, manifestVersion, m.Version)
	require.NotEmpty(t, m.Machine)

	// an existing manifest is left alone
	require.NoError(t, os.WriteFile(v.ManifestPath(), []byte("version: 1\nmachine: laptop\n"), 0o644))
	require.NoError(t, v.EnsureManifest())
	m, err = v.ReadManifest()
	require.NoError(t, err)
	require.Equal(t, "laptop", m.Machine)
}
