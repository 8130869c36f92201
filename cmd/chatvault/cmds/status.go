package cmds

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatvault/pkg/cursordb"
	"github.com/go-go-golems/chatvault/pkg/identity"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

func newStatusCommand() *cobra.Command {
	var vaultDir string

	cmd := &cobra.Command{
		Use:   "status [project-path]",
		Short: "Compare a project's local conversations with its vault snapshots",
		Args:  cobra.MaximumNArgs(1),
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
			projectID := identity.Resolve(projectPath)

			local, err := localConversations(env, projectPath)
			if err != nil {
				return err
			}
			snapshotIDs, err := snapshotConversationIDs(vault, projectID)
			if err != nil {
				return err
			}

			onlyLocal := []cursordb.RegistryEntry{}
			both := 0
			for _, e := range local {
				if _, ok := snapshotIDs[e.ComposerID]; ok {
					both++
				} else {
					onlyLocal = append(onlyLocal, e)
				}
			}
			onlySnapshot := []string{}
			for id := range snapshotIDs {
				found := false
				for _, e := range local {
					if e.ComposerID == id {
						found = true
						break
					}
				}
				if !found {
					onlySnapshot = append(onlySnapshot, id)
				}
			}
			sort.Strings(onlySnapshot)

			fmt.Printf("Project:  %s\n", projectPath)
			fmt.Printf("Identity: %s\n", projectID)
			fmt.Printf("Vault:    %s\n\n", vault.ProjectDir(projectID))
			fmt.Printf("  Local conversations:          %d\n", len(local))
			fmt.Printf("  Snapshot files:               %d\n", len(snapshotIDs))
			fmt.Printf("  In both:                      %d\n", both)
			fmt.Printf("  Local only (unexported):      %d\n", len(onlyLocal))
			fmt.Printf("  Snapshot only (not imported): %d\n", len(onlySnapshot))

			if len(onlyLocal) > 0 {
				fmt.Println("\nLocal only (run 'chatvault checkpoint' to export):")
				for _, e := range onlyLocal {
					fmt.Printf("  %s  %s\n", shortID(e.ComposerID), e.Name)
				}
			}
			if len(onlySnapshot) > 0 {
				fmt.Println("\nSnapshot only (run 'chatvault import' to import):")
				for _, id := range onlySnapshot {
					fmt.Printf("  %s\n", shortID(id))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultDir, "vault", "", "Vault directory (default ~/.chatvault)")
	return cmd
}

// localConversations merges the registries of every workspace bound to
// the project, deduplicated by id.
func localConversations(env workspace.Env, projectPath string) ([]cursordb.RegistryEntry, error) {
	handles, err := env.FindForProject(projectPath)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	out := []cursordb.RegistryEntry{}
	for _, h := range handles {
		store := cursordb.Open(h.DBPath())
		reg, err := cursordb.LoadRegistry(store)
		if err != nil {
			_ = store.Close()
			if errors.Is(err, cursordb.ErrNoData) {
				continue
			}
			return nil, err
		}
		entries, err := reg.Entries()
		_ = store.Close()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.ComposerID == "" {
				continue
			}
			if _, ok := seen[e.ComposerID]; ok {
				continue
			}
			seen[e.ComposerID] = struct{}{}
			out = append(out, e)
		}
	}
	return out, nil
}

func snapshotConversationIDs(vault workspace.Vault, projectID string) (map[string]struct{}, error) {
	files, err := filepath.Glob(filepath.Join(vault.ProjectDir(projectID), "*.json"))
	if err != nil {
		return nil, err
	}
	ids := map[string]struct{}{}
	for _, f := range files {
		ids[strings.TrimSuffix(filepath.Base(f), ".json")] = struct{}{}
	}
	return ids, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
