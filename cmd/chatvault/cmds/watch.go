package cmds

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatvault/pkg/watch"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

func newWatchCommand() *cobra.Command {
	var (
		vaultDir string
		interval time.Duration
		noGit    bool
	)

	cmd := &cobra.Command{
		Use:   "watch [project-path...]",
		Short: "Poll projects and checkpoint them whenever their stores change",
		Long: `Runs a stateless export pass per project whenever the store fingerprint
changes, at a fixed interval, optionally committing and pushing the
vault after each checkpoint. Stop with SIGINT/SIGTERM; the current pass
finishes, the next one is not started.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects := args
			if len(projects) == 0 {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				projects = []string{cwd}
			}
			env, err := workspace.DefaultEnv()
			if err != nil {
				return err
			}
			vault, err := resolveVault(vaultDir)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := &watch.Watcher{
				Env:          env,
				Vault:        vault,
				ProjectPaths: projects,
				Interval:     interval,
				GitSync:      !noGit,
			}
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&vaultDir, "vault", "", "Vault directory (default ~/.chatvault)")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "Polling interval")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "Disable git commit/push after checkpoints")
	return cmd
}
