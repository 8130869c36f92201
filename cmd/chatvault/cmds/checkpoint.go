package cmds

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatvault/pkg/exporter"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

func newCheckpointCommand() *cobra.Command {
	var vaultDir string

	cmd := &cobra.Command{
		Use:   "checkpoint [project-path]",
		Short: "Export all conversations of a project into the vault",
		Long: `Reads the editor's stores (safe while the editor is running) and writes
one self-contained snapshot document per conversation under the vault,
grouped by project identity. Unchanged conversations produce no writes.`,
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

			pass := &exporter.Pass{Env: env, Vault: vault, ProjectPath: projectPath}
			res, err := pass.Run(cmd.Context())
			if err != nil {
				return err
			}

			for _, w := range res.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
			fmt.Printf("project %s: %d conversation(s), %d exported, %d unchanged\n",
				res.ProjectID, res.Conversations, res.Exported, res.Unchanged)
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultDir, "vault", "", "Vault directory (default ~/.chatvault)")
	return cmd
}
