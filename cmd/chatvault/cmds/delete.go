package cmds

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatvault/pkg/gitsync"
	"github.com/go-go-golems/chatvault/pkg/identity"
)

func newDeleteCommand() *cobra.Command {
	var (
		vaultDir    string
		allProjects bool
		yes         bool
	)

	cmd := &cobra.Command{
		Use:   "delete [project-path]",
		Short: "Delete a project's snapshots from the vault",
		Long: `Removes the snapshot documents for one project (or all of them with
--all-projects) and, when the vault has a git remote, pulls first and
pushes the deletion so every machine converges. Requires --yes; without
it the command only reports what would be deleted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := resolveVault(vaultDir)
			if err != nil {
				return err
			}

			var syncer *gitsync.Syncer
			if gitsync.IsRepo(vault.Dir) {
				manifest, err := vault.ReadManifest()
				if err != nil {
					return err
				}
				machine := manifest.Machine
				if machine == "" {
					machine, _ = os.Hostname()
				}
				syncer = &gitsync.Syncer{RepoDir: vault.Dir, Machine: machine}
				// the remote is ground truth for what exists
				if err := syncer.Pull(cmd.Context()); err != nil {
					return err
				}
			}

			targets := []string{}
			label := ""
			if allProjects {
				entries, err := os.ReadDir(vault.SnapshotsDir())
				if err != nil && !os.IsNotExist(err) {
					return errors.Wrap(err, "read snapshots dir")
				}
				for _, entry := range entries {
					if entry.IsDir() {
						targets = append(targets, filepath.Join(vault.SnapshotsDir(), entry.Name()))
					}
				}
				label = "all projects"
			} else {
				projectPath, err := projectPathFromArgs(args)
				if err != nil {
					return err
				}
				projectID := identity.Resolve(projectPath)
				dir := vault.ProjectDir(projectID)
				if _, err := os.Stat(dir); err == nil {
					targets = append(targets, dir)
				}
				label = projectID
			}

			if len(targets) == 0 {
				fmt.Println("No snapshots found.")
				return nil
			}
			if !yes {
				fmt.Printf("This would delete %d snapshot director(ies):\n", len(targets))
				for _, dir := range targets {
					fmt.Printf("  %s\n", dir)
				}
				fmt.Println("\nRe-run with --yes to confirm.")
				return nil
			}

			for _, dir := range targets {
				if err := os.RemoveAll(dir); err != nil {
					return errors.Wrapf(err, "delete %s", dir)
				}
				fmt.Printf("deleted %s\n", dir)
			}

			if syncer != nil {
				msg, err := syncer.SyncMessage(cmd.Context(), fmt.Sprintf("[%s] delete snapshots for %s", syncer.Machine, label))
				if err != nil {
					return err
				}
				fmt.Printf("git: %s\n", msg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultDir, "vault", "", "Vault directory (default ~/.chatvault)")
	cmd.Flags().BoolVar(&allProjects, "all-projects", false, "Delete snapshots of every project")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}
