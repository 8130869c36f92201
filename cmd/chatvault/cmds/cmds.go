package cmds

import (
	"os"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatvault/pkg/workspace"
)

// AddToRootCommand registers every chatvault subcommand.
func AddToRootCommand(root *cobra.Command) {
	root.AddCommand(newInitCommand())
	root.AddCommand(newCheckpointCommand())
	root.AddCommand(newImportCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newSyncCommand())
	root.AddCommand(newWatchCommand())
	root.AddCommand(newReloadCommand())
	root.AddCommand(newDeleteCommand())

	listCmd, err := NewListCommand()
	cobra.CheckErr(err)
	snapshotsCmd, err := NewSnapshotsCommand()
	cobra.CheckErr(err)
	workspacesCmd, err := NewWorkspacesCommand()
	cobra.CheckErr(err)

	cobraListCmd, err := cli.BuildCobraCommand(listCmd, cli.WithCobraMiddlewaresFunc(chatvaultMiddlewares))
	cobra.CheckErr(err)
	cobraSnapshotsCmd, err := cli.BuildCobraCommand(snapshotsCmd, cli.WithCobraMiddlewaresFunc(chatvaultMiddlewares))
	cobra.CheckErr(err)
	cobraWorkspacesCmd, err := cli.BuildCobraCommand(workspacesCmd, cli.WithCobraMiddlewaresFunc(chatvaultMiddlewares))
	cobra.CheckErr(err)

	root.AddCommand(cobraListCmd)
	root.AddCommand(cobraSnapshotsCmd)
	root.AddCommand(cobraWorkspacesCmd)
}

func chatvaultMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd,
			fields.WithSource("cobra"),
		),
		sources.FromArgs(args,
			fields.WithSource("arguments"),
		),
		sources.FromEnv("CHATVAULT",
			fields.WithSource("env"),
		),
		sources.FromDefaults(
			fields.WithSource("defaults"),
		),
	}, nil
}

// resolveVault picks the vault directory: explicit flag first, then the
// chatvault config/env value, then ~/.chatvault.
func resolveVault(flagValue string) (workspace.Vault, error) {
	dir := flagValue
	if dir == "" {
		dir = viper.GetString("vault")
	}
	if dir == "" {
		def, err := workspace.DefaultVaultDir()
		if err != nil {
			return workspace.Vault{}, err
		}
		dir = def
	}
	return workspace.Vault{Dir: dir}, nil
}

func projectPathFromArgs(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "resolve working directory")
	}
	return cwd, nil
}
