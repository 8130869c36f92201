package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatvault/pkg/gitsync"
)

func newInitCommand() *cobra.Command {
	var (
		vaultDir string
		remote   string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the vault as a git repository",
		Long: `Creates the vault directory with its manifest and snapshot tree and puts
it under git, optionally pointing origin at a remote. Running it again
on an existing vault only adds or updates the remote.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := resolveVault(vaultDir)
			if err != nil {
				return err
			}
			if err := vault.EnsureManifest(); err != nil {
				return err
			}

			syncer := &gitsync.Syncer{RepoDir: vault.Dir}
			if gitsync.IsRepo(vault.Dir) {
				fmt.Printf("vault %s is already initialized\n", vault.Dir)
			} else {
				if err := syncer.Init(cmd.Context()); err != nil {
					return err
				}
				fmt.Printf("initialized vault at %s\n", vault.Dir)
			}

			if remote != "" {
				if err := syncer.SetRemote(cmd.Context(), remote); err != nil {
					return err
				}
				fmt.Printf("remote set to %s\n", remote)
			} else if !syncer.HasRemote(cmd.Context()) {
				fmt.Println("To sync between machines, add a remote:")
				fmt.Println("  chatvault init --remote git@github.com:you/my-vault.git")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultDir, "vault", "", "Vault directory (default ~/.chatvault)")
	cmd.Flags().StringVar(&remote, "remote", "", "Git remote URL to set as origin")
	return cmd
}
