package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatvault/pkg/exporter"
	"github.com/go-go-golems/chatvault/pkg/gitsync"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

// Watcher polls one or more projects and checkpoints them whenever
// their stores change. Each tick is a stateless full pass; the only
// carried state is the last store fingerprint per project, used to skip
// no-op passes, never to skip safety checks.
type Watcher struct {
	Env          workspace.Env
	Vault        workspace.Vault
	ProjectPaths []string
	Interval     time.Duration
	GitSync      bool
}

// Run polls until the context is cancelled. Cancellation lets the
// current pass finish and skips the next one; passes are idempotent so
// no teardown is needed. Projects are watched independently, one
// goroutine each, so a corrupt store fails only that project's loop.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, projectPath := range w.ProjectPaths {
		g.Go(func() error {
			return w.watchProject(ctx, projectPath, interval)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (w *Watcher) watchProject(ctx context.Context, projectPath string, interval time.Duration) error {
	// startup problems are logged, not returned: returning would cancel
	// the shared errgroup context and stop every other project's loop
	var syncer *gitsync.Syncer
	if w.GitSync {
		if gitsync.IsRepo(w.Vault.Dir) {
			manifest, err := w.Vault.ReadManifest()
			if err != nil {
				log.Warn().Str("vault", w.Vault.Dir).Err(err).Msg("manifest unreadable, sync disabled")
			} else {
				machine := manifest.Machine
				if machine == "" {
					machine, _ = os.Hostname()
				}
				syncer = &gitsync.Syncer{RepoDir: w.Vault.Dir, Machine: machine}
			}
		} else {
			log.Warn().Str("vault", w.Vault.Dir).Msg("vault is not a git repo, sync disabled")
		}
	}

	last, err := w.Fingerprint(projectPath)
	if err != nil {
		log.Warn().Str("project", projectPath).Err(err).Msg("initial fingerprint failed")
		last = ""
	}
	log.Info().Str("project", projectPath).Dur("interval", interval).Msg("watching project")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		current, err := w.Fingerprint(projectPath)
		if err != nil {
			log.Warn().Str("project", projectPath).Err(err).Msg("fingerprint failed, skipping tick")
			continue
		}
		if current == last {
			continue
		}

		pass := &exporter.Pass{Env: w.Env, Vault: w.Vault, ProjectPath: projectPath}
		res, err := pass.Run(ctx)
		if err != nil {
			log.Warn().Str("project", projectPath).Err(err).Msg("checkpoint failed")
			last = current
			continue
		}
		log.Info().Str("project", projectPath).
			Int("exported", res.Exported).
			Int("unchanged", res.Unchanged).
			Msg("checkpointed")

		if syncer != nil && res.Exported > 0 {
			msg, err := syncer.Sync(ctx, filepath.Base(projectPath))
			if err != nil {
				log.Warn().Str("project", projectPath).Err(err).Msg("git sync failed")
			} else {
				log.Info().Str("project", projectPath).Str("git", msg).Msg("vault synced")
			}
		}

		last = current
	}
}

// Fingerprint hashes mtime and size of the global store (plus its WAL,
// where most writes land first) and the newest workspace store for the
// project. Cheap change detection, not a consistency mechanism.
func (w *Watcher) Fingerprint(projectPath string) (string, error) {
	parts := []string{}

	addFile := func(label, path string) {
		st, err := os.Stat(path)
		if err != nil {
			return
		}
		parts = append(parts, fmt.Sprintf("%s:%d:%d", label, st.ModTime().UnixNano(), st.Size()))
	}

	globalPath := w.Env.GlobalDBPath()
	addFile("global", globalPath)
	addFile("global-wal", globalPath+"-wal")

	handles, err := w.Env.FindForProject(projectPath)
	if err != nil {
		return "", err
	}
	if len(handles) > 0 {
		addFile("ws", handles[0].DBPath())
		addFile("ws-wal", handles[0].DBPath()+"-wal")
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}
