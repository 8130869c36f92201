package gitsync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Syncer is a thin shell over the git binary. Durable replication of
// the vault is git's job; the engine only guarantees the local
// read/write transformation.
type Syncer struct {
	RepoDir string
	Machine string
}

// IsRepo reports whether the vault directory is under git.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func (s *Syncer) HasRemote(ctx context.Context) bool {
	out, err := s.git(ctx, 10*time.Second, "remote")
	return err == nil && strings.TrimSpace(out) != ""
}

// Pull fetches and rebases onto origin/main with autostash, keeping the
// vault history linear.
func (s *Syncer) Pull(ctx context.Context) error {
	if !s.HasRemote(ctx) {
		return nil
	}
	if _, err := s.git(ctx, 30*time.Second, "fetch", "origin"); err != nil {
		return errors.Wrap(err, "gitsync: fetch")
	}
	// tracking setup is best-effort; rebase below is explicit anyway
	_, _ = s.git(ctx, 10*time.Second, "branch", "--set-upstream-to=origin/main", "main")
	if _, err := s.git(ctx, 30*time.Second, "rebase", "--autostash", "origin/main"); err != nil {
		return errors.Wrap(err, "gitsync: rebase")
	}
	return nil
}

// Sync pulls, stages the snapshot tree, commits and pushes. Returns a
// short human-readable outcome.
func (s *Syncer) Sync(ctx context.Context, projectName string) (string, error) {
	stamp := time.Now().UTC().Format("2006-01-02 15:04 UTC")
	return s.SyncMessage(ctx, fmt.Sprintf("[%s] checkpoint %s (%s)", s.Machine, projectName, stamp))
}

// SyncMessage is Sync with an explicit commit message.
func (s *Syncer) SyncMessage(ctx context.Context, msg string) (string, error) {
	if err := s.Pull(ctx); err != nil {
		return "", err
	}

	// a fresh clone may not have a blobs/ dir yet (git never commits
	// empty directories); stage only the paths that exist
	staged := []string{}
	for _, p := range []string{"snapshots", "blobs", "vault.yaml"} {
		if _, err := os.Stat(filepath.Join(s.RepoDir, p)); err == nil {
			staged = append(staged, p)
		}
	}
	if len(staged) == 0 {
		return "no changes to commit", nil
	}
	if _, err := s.git(ctx, 10*time.Second, append([]string{"add"}, staged...)...); err != nil {
		return "", errors.Wrap(err, "gitsync: add")
	}
	if _, err := s.git(ctx, 10*time.Second, "diff", "--cached", "--quiet"); err == nil {
		return "no changes to commit", nil
	}

	if _, err := s.git(ctx, 10*time.Second, "commit", "-m", msg); err != nil {
		return "", errors.Wrap(err, "gitsync: commit")
	}

	if !s.HasRemote(ctx) {
		return "committed (no remote configured)", nil
	}
	if _, err := s.git(ctx, 30*time.Second, "push", "-u", "origin", "HEAD"); err != nil {
		return "", errors.Wrap(err, "gitsync: push")
	}
	return "committed and pushed", nil
}

// Init turns the vault directory into a git repo with an initial
// commit. Idempotent: an already-initialized vault is left alone.
func (s *Syncer) Init(ctx context.Context) error {
	if IsRepo(s.RepoDir) {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(s.RepoDir, "snapshots"), 0o755); err != nil {
		return errors.Wrap(err, "gitsync: create vault dirs")
	}
	if _, err := s.git(ctx, 10*time.Second, "init", "-b", "main"); err != nil {
		return errors.Wrap(err, "gitsync: init")
	}
	ignore := filepath.Join(s.RepoDir, ".gitignore")
	if _, err := os.Stat(ignore); os.IsNotExist(err) {
		if err := os.WriteFile(ignore, []byte(".DS_Store\n"), 0o644); err != nil {
			return errors.Wrap(err, "gitsync: write .gitignore")
		}
	}
	if _, err := s.git(ctx, 10*time.Second, "add", "."); err != nil {
		return errors.Wrap(err, "gitsync: add")
	}
	if _, err := s.git(ctx, 10*time.Second, "commit", "-m", "Initialize vault"); err != nil {
		return errors.Wrap(err, "gitsync: initial commit")
	}
	return nil
}

// SetRemote points origin at the given URL, adding or updating it.
func (s *Syncer) SetRemote(ctx context.Context, url string) error {
	if _, err := s.git(ctx, 10*time.Second, "remote", "get-url", "origin"); err != nil {
		if _, err := s.git(ctx, 10*time.Second, "remote", "add", "origin", url); err != nil {
			return errors.Wrap(err, "gitsync: add remote")
		}
		return nil
	}
	if _, err := s.git(ctx, 10*time.Second, "remote", "set-url", "origin", url); err != nil {
		return errors.Wrap(err, "gitsync: set remote url")
	}
	return nil
}

func (s *Syncer) git(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.RepoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Debug().Strs("args", args).Str("output", strings.TrimSpace(string(out))).Err(err).Msg("git command failed")
		return string(out), errors.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
