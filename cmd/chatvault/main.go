package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatvault/cmd/chatvault/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "chatvault",
	Short: "chatvault snapshots editor conversations into a portable, git-synced vault",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		err := logging.InitLoggerFromCobra(cmd)
		cobra.CheckErr(err)
	},
}

func main() {
	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	err := clay.InitGlazed("chatvault", rootCmd)
	cobra.CheckErr(err)
	err = clay.InitViperWithAppName("chatvault", "")
	cobra.CheckErr(err)
	err = viper.BindPFlags(rootCmd.PersistentFlags())
	cobra.CheckErr(err)
	err = logging.InitLoggerFromCobra(rootCmd)
	cobra.CheckErr(err)

	cmds.AddToRootCommand(rootCmd)

	err = rootCmd.Execute()
	cobra.CheckErr(err)
}
