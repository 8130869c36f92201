package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

// BlobCache is a content-addressed store shared by all snapshots of a
// vault: a directory of immutable files named by content hash,
// append-only. A file pasted into ten conversations is stored once.
type BlobCache struct {
	dir string
}

var blobNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func NewBlobCache(dir string) (*BlobCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "blobcache: create cache dir")
	}
	return &BlobCache{dir: dir}, nil
}

func (c *BlobCache) Dir() string { return c.dir }

func (c *BlobCache) path(hash string) (string, error) {
	if !blobNameRe.MatchString(hash) {
		return "", errors.Errorf("blobcache: invalid blob hash %q", hash)
	}
	return filepath.Join(c.dir, hash), nil
}

func (c *BlobCache) Has(hash string) bool {
	p, err := c.path(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Put stores a blob under its hash. Existing entries are immutable and
// never rewritten; returns true when a new file was created.
func (c *BlobCache) Put(hash string, data []byte) (bool, error) {
	p, err := c.path(hash)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err == nil {
		return false, nil
	}

	tmp, err := os.CreateTemp(c.dir, ".blob-*")
	if err != nil {
		return false, errors.Wrap(err, "blobcache: create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return false, errors.Wrap(err, "blobcache: write blob")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return false, err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return false, errors.Wrap(err, "blobcache: publish blob")
	}
	return true, nil
}

func (c *BlobCache) Get(hash string) ([]byte, bool, error) {
	p, err := c.path(hash)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "blobcache: read blob")
	}
	return data, true, nil
}

// HashContent computes the canonical content hash used for
// deduplication checks.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
