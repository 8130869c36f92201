package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatvault/pkg/cursordb"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

type WorkspacesCommand struct {
	*glazed_cmds.CommandDescription
}

type WorkspacesSettings struct {
	All bool `glazed:"all"`
}

func NewWorkspacesCommand() (*WorkspacesCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := glazed_cmds.NewCommandDescription(
		"workspaces",
		glazed_cmds.WithShort("List the editor workspaces known on this machine"),
		glazed_cmds.WithFlags(
			fields.New(
				"all",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Include workspaces without any conversations"),
			),
		),
		glazed_cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &WorkspacesCommand{CommandDescription: desc}, nil
}

func (c *WorkspacesCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &WorkspacesSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	env, err := workspace.DefaultEnv()
	if err != nil {
		return err
	}
	handles, err := env.ListAll()
	if err != nil {
		return err
	}

	for i, h := range handles {
		conversations, err := countConversations(h)
		if err != nil {
			return err
		}
		if conversations == 0 && !s.All {
			continue
		}

		modified := ""
		if !h.ModTime.IsZero() {
			modified = h.ModTime.UTC().Format("2006-01-02 15:04 UTC")
		}
		row := types.NewRow(
			types.MRP("index", i+1),
			types.MRP("path", h.Path),
			types.MRP("kind", h.Kind),
			types.MRP("host", h.Host),
			types.MRP("conversations", conversations),
			types.MRP("modified", modified),
			types.MRP("dir", h.Dir),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}

	return nil
}

var _ glazed_cmds.GlazeCommand = &WorkspacesCommand{}

func countConversations(h workspace.Handle) (int, error) {
	store := cursordb.Open(h.DBPath())
	defer func() { _ = store.Close() }()

	reg, err := cursordb.LoadRegistry(store)
	if errors.Is(err, cursordb.ErrNoData) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	entries, err := reg.Entries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
