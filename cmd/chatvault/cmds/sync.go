package cmds

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatvault/pkg/gitsync"
)

func newSyncCommand() *cobra.Command {
	var vaultDir string

	cmd := &cobra.Command{
		Use:   "sync [project-path]",
		Short: "Commit and push the vault to its git remote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath, err := projectPathFromArgs(args)
			if err != nil {
				return err
			}
			vault, err := resolveVault(vaultDir)
			if err != nil {
				return err
			}
			if !gitsync.IsRepo(vault.Dir) {
				return errors.Errorf("vault %s is not a git repository", vault.Dir)
			}

			manifest, err := vault.ReadManifest()
			if err != nil {
				return err
			}
			machine := manifest.Machine
			if machine == "" {
				machine, _ = os.Hostname()
			}

			syncer := &gitsync.Syncer{RepoDir: vault.Dir, Machine: machine}
			msg, err := syncer.Sync(cmd.Context(), filepath.Base(projectPath))
			if err != nil {
				return err
			}
			fmt.Printf("git: %s\n", msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultDir, "vault", "", "Vault directory (default ~/.chatvault)")
	return cmd
}
