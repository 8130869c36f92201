package cmds

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatvault/pkg/importer"
	"github.com/go-go-golems/chatvault/pkg/reload"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

func newImportCommand() *cobra.Command {
	var (
		vaultDir      string
		force         bool
		processName   string
		triggerReload bool
	)

	cmd := &cobra.Command{
		Use:   "import [project-path]",
		Short: "Import the vault's snapshots for a project into the local editor stores",
		Long: `Applies each snapshot document with a newest-wins policy: inserted when
the conversation is unknown locally, updated when the snapshot is
strictly newer, skipped otherwise. The destination stores are backed up
before any write, and the import refuses to run while the editor is
open unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath, err := projectPathFromArgs(args)
			if err != nil {
				return err
			}
			env, err := workspace.DefaultEnv()
			if err != nil {
				return err
			}
			vault, err := resolveVault(vaultDir)
			if err != nil {
				return err
			}

			tx := &importer.Transaction{
				Env:         env,
				Vault:       vault,
				ProjectPath: projectPath,
				Force:       force,
				ProcessName: processName,
			}
			res, err := tx.Run(cmd.Context())
			if err != nil {
				if errors.Is(err, importer.ErrNoSnapshots) {
					fmt.Fprintf(os.Stderr, "%s\nRun 'chatvault snapshots' to see available snapshot projects.\n", err)
					return nil
				}
				return err
			}

			for _, w := range res.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
			for _, d := range res.Docs {
				if d.Status == importer.StatusFailed {
					fmt.Fprintf(os.Stderr, "failed: %s: %s\n", d.ConversationID, d.Error)
				}
			}
			fmt.Printf("project %s: %d inserted, %d updated, %d skipped, %d failed\n",
				res.ProjectID, res.Inserted, res.Updated, res.Skipped, res.Failed)

			if triggerReload && res.Inserted+res.Updated > 0 {
				if !reload.TriggerWindowReload(cmd.Context(), tx.ProcessName) {
					fmt.Println("Restart the editor (quit and reopen) to see imported conversations.")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultDir, "vault", "", "Vault directory (default ~/.chatvault)")
	cmd.Flags().BoolVar(&force, "force", false, "Write even if the editor is running")
	cmd.Flags().StringVar(&processName, "process-name", "Cursor", "Editor process name for the liveness probe")
	cmd.Flags().BoolVar(&triggerReload, "reload", false, "Trigger an editor window reload after importing")
	return cmd
}
