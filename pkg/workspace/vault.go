package workspace

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Vault is the git-synced directory holding snapshot documents grouped
// by project identity, plus the shared content-addressed blob cache.
type Vault struct {
	Dir string
}

const manifestVersion = 1

// Manifest records vault-level metadata. Machine name lives here and in
// git commit messages, never inside snapshot documents, so documents
// stay byte-identical across machines.
type Manifest struct {
	Version int    `yaml:"version"`
	Machine string `yaml:"machine"`
}

func DefaultVaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "vault: resolve home dir")
	}
	return filepath.Join(home, ".chatvault"), nil
}

func (v Vault) SnapshotsDir() string {
	return filepath.Join(v.Dir, "snapshots")
}

func (v Vault) ProjectDir(projectID string) string {
	return filepath.Join(v.SnapshotsDir(), projectID)
}

func (v Vault) BlobsDir() string {
	return filepath.Join(v.Dir, "blobs")
}

func (v Vault) ManifestPath() string {
	return filepath.Join(v.Dir, "vault.yaml")
}

// EnsureManifest writes vault.yaml on first use and leaves an existing
// one alone.
func (v Vault) EnsureManifest() error {
	if _, err := os.Stat(v.ManifestPath()); err == nil {
		return nil
	}
	if err := os.MkdirAll(v.Dir, 0o755); err != nil {
		return errors.Wrap(err, "vault: create vault dir")
	}
	machine, err := os.Hostname()
	if err != nil {
		machine = "unknown"
	}
	data, err := yaml.Marshal(Manifest{Version: manifestVersion, Machine: machine})
	if err != nil {
		return errors.Wrap(err, "vault: marshal manifest")
	}
	return os.WriteFile(v.ManifestPath(), data, 0o644)
}

// ReadManifest returns the manifest, or a zero manifest when none was
// written yet.
func (v Vault) ReadManifest() (Manifest, error) {
	data, err := os.ReadFile(v.ManifestPath())
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, errors.Wrap(err, "vault: read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "vault: parse manifest")
	}
	return m, nil
}
