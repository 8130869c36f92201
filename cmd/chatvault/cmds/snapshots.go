package cmds

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatvault/pkg/snapshot"
)

type SnapshotsCommand struct {
	*glazed_cmds.CommandDescription
}

type SnapshotsSettings struct {
	Vault string `glazed:"vault"`
}

func NewSnapshotsCommand() (*SnapshotsCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := glazed_cmds.NewCommandDescription(
		"snapshots",
		glazed_cmds.WithShort("List the snapshot projects stored in the vault"),
		glazed_cmds.WithFlags(
			fields.New(
				"vault",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Vault directory (default ~/.chatvault)"),
			),
		),
		glazed_cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &SnapshotsCommand{CommandDescription: desc}, nil
}

func (c *SnapshotsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &SnapshotsSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	vault, err := resolveVault(s.Vault)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(vault.SnapshotsDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read snapshots dir")
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectDir := filepath.Join(vault.SnapshotsDir(), entry.Name())
		files, err := filepath.Glob(filepath.Join(projectDir, "*.json"))
		if err != nil {
			return err
		}
		if len(files) == 0 {
			continue
		}

		var latest int64
		sources := map[string]struct{}{}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				log.Warn().Err(err).Str("file", f).Msg("skipping unreadable snapshot")
				continue
			}
			doc, err := snapshot.Unmarshal(data)
			if err != nil {
				log.Warn().Err(err).Str("file", f).Msg("skipping malformed snapshot")
				continue
			}
			if doc.LastUpdatedAt > latest {
				latest = doc.LastUpdatedAt
			}
			if doc.SourcePath != "" {
				sources[doc.SourcePath] = struct{}{}
			}
		}

		sourceList := make([]string, 0, len(sources))
		for p := range sources {
			sourceList = append(sourceList, p)
		}
		sort.Strings(sourceList)

		row := types.NewRow(
			types.MRP("project", entry.Name()),
			types.MRP("snapshots", len(files)),
			types.MRP("latest", formatMillis(latest)),
			types.MRP("source_paths", strings.Join(sourceList, ", ")),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}

	return nil
}

var _ glazed_cmds.GlazeCommand = &SnapshotsCommand{}
