package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatvault/pkg/reload"
)

func newReloadCommand() *cobra.Command {
	var processName string

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Trigger an editor window reload so imported conversations show up",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reload.TriggerWindowReload(cmd.Context(), processName) {
				fmt.Println("reload triggered")
				return nil
			}
			fmt.Println("Restart the editor (quit and reopen) to see imported conversations.")
			return nil
		},
	}

	cmd.Flags().StringVar(&processName, "process-name", "Cursor", "Editor process name")
	return cmd
}
