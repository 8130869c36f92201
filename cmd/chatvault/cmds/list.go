package cmds

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatvault/pkg/cursordb"
	"github.com/go-go-golems/chatvault/pkg/snapshot"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

type ListCommand struct {
	*glazed_cmds.CommandDescription
}

type ListSettings struct {
	Project string `glazed:"project"`
}

func NewListCommand() (*ListCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := glazed_cmds.NewCommandDescription(
		"list",
		glazed_cmds.WithShort("List the conversations of a project"),
		glazed_cmds.WithArguments(
			fields.New(
				"project",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Project path (defaults to the working directory)"),
			),
		),
		glazed_cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &ListCommand{CommandDescription: desc}, nil
}

func (c *ListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ListSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	projectPath, err := projectPathFromArgs(nonEmpty(s.Project))
	if err != nil {
		return err
	}
	env, err := workspace.DefaultEnv()
	if err != nil {
		return err
	}
	handles, err := env.FindForProject(projectPath)
	if err != nil {
		return err
	}

	global := cursordb.Open(env.GlobalDBPath())
	defer func() { _ = global.Close() }()

	seen := map[string]struct{}{}
	for _, h := range handles {
		store := cursordb.Open(h.DBPath())
		reg, err := cursordb.LoadRegistry(store)
		if err != nil {
			_ = store.Close()
			if errors.Is(err, cursordb.ErrNoData) {
				continue
			}
			return err
		}
		entries, err := reg.Entries()
		_ = store.Close()
		if err != nil {
			return err
		}

		for _, e := range entries {
			if e.ComposerID == "" {
				continue
			}
			if _, ok := seen[e.ComposerID]; ok {
				continue
			}
			seen[e.ComposerID] = struct{}{}

			messages := 0
			mode := e.UnifiedMode
			if raw, ok, err := global.GetItem(cursordb.TableDiskKV, cursordb.PrefixComposerData+e.ComposerID); err == nil && ok {
				if rec, err := snapshot.RecordFromBody(e.ComposerID, json.RawMessage(raw)); err == nil {
					messages = len(rec.Headers)
					if rec.Mode != "" {
						mode = rec.Mode
					}
				}
			}

			row := types.NewRow(
				types.MRP("id", e.ComposerID),
				types.MRP("name", e.Name),
				types.MRP("created_at", formatMillis(e.CreatedAt)),
				types.MRP("last_updated_at", formatMillis(e.LastUpdatedAt)),
				types.MRP("mode", mode),
				types.MRP("messages", messages),
				types.MRP("workspace", h.Dir),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	}

	return nil
}

var _ glazed_cmds.GlazeCommand = &ListCommand{}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04 UTC")
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
