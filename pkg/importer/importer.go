package importer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatvault/pkg/cursordb"
	"github.com/go-go-golems/chatvault/pkg/identity"
	"github.com/go-go-golems/chatvault/pkg/rewrite"
	"github.com/go-go-golems/chatvault/pkg/snapshot"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

// ErrEditorRunning aborts an import before any write when the owning
// editor holds the destination stores. Overridable via Force, in which
// case the accepted risk is logged.
var ErrEditorRunning = errors.New("importer: editor is running, refusing to write (use --force to override)")

// ErrNoSnapshots means the vault holds nothing for this project.
var ErrNoSnapshots = errors.New("importer: no snapshots found for project")

type Status string

const (
	StatusInserted        Status = "inserted"
	StatusUpdated         Status = "updated"
	StatusSkippedNotNewer Status = "skipped-not-newer"
	StatusFailed          Status = "failed"
)

type DocResult struct {
	ConversationID string
	Status         Status
	Gaps           int
	Error          string
}

type Result struct {
	ProjectID   string
	SnapshotDir string
	Inserted    int
	Updated     int
	Skipped     int
	Failed      int
	Backups     []string
	Docs        []DocResult
	Warnings    []string
}

// Transaction applies the vault's snapshots for one project to the
// destination stores: liveness guard, backup before any mutation, then
// per-document newest-wins application. One bad document never aborts
// the batch; only a failed backup or a live editor does, and both abort
// before anything is written.
type Transaction struct {
	Env         workspace.Env
	Vault       workspace.Vault
	ProjectPath string

	// Force accepts the risk of writing under a live editor.
	Force bool

	// ProcessName is the editor process matched by the liveness probe.
	ProcessName string

	// Probe overrides the process-liveness check, used by tests.
	Probe func(processName string) bool
}

func (t *Transaction) processName() string {
	if t.ProcessName != "" {
		return t.ProcessName
	}
	return "Cursor"
}

func (t *Transaction) probe() func(string) bool {
	if t.Probe != nil {
		return t.Probe
	}
	return editorRunning
}

func (t *Transaction) Run(ctx context.Context) (*Result, error) {
	projectID := identity.Resolve(t.ProjectPath)
	res := &Result{ProjectID: projectID}

	dir, ok := t.findSnapshotDir(projectID)
	if !ok {
		return nil, errors.Wrapf(ErrNoSnapshots, "project %s", projectID)
	}
	res.SnapshotDir = dir
	if filepath.Base(dir) != projectID {
		log.Info().Str("matched", filepath.Base(dir)).Str("wanted", projectID).Msg("matched snapshots under a different identity")
	}

	if t.probe()(t.processName()) {
		if !t.Force {
			return nil, ErrEditorRunning
		}
		log.Warn().Str("process", t.processName()).Msg("editor is running; proceeding on explicit override")
	}

	files, err := listSnapshotFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoSnapshots, "project %s", projectID)
	}

	handle, err := t.findOrCreateWorkspace()
	if err != nil {
		return nil, err
	}

	globalPath := t.Env.GlobalDBPath()
	if _, err := os.Stat(globalPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(globalPath), 0o755); err != nil {
			return nil, errors.Wrap(err, "importer: create global storage dir")
		}
		if err := cursordb.InitSchema(globalPath); err != nil {
			return nil, err
		}
	}

	// Backup before any mutation; a failed backup aborts the whole
	// operation with zero writes.
	for _, path := range []string{globalPath, handle.DBPath()} {
		backup, err := cursordb.Backup(path)
		if err != nil {
			return nil, errors.Wrapf(err, "importer: backup %s", path)
		}
		res.Backups = append(res.Backups, backup)
	}

	cache, err := snapshot.NewBlobCache(t.Vault.BlobsDir())
	if err != nil {
		return nil, err
	}

	global := cursordb.Open(globalPath)
	defer func() { _ = global.Close() }()
	registryStore := cursordb.Open(handle.DBPath())
	defer func() { _ = registryStore.Close() }()
	registry, err := cursordb.LoadRegistry(registryStore)
	if err != nil {
		return nil, err
	}

	destRoot := normalizedProjectPath(t.ProjectPath)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docRes := t.applyDocument(file, destRoot, global, registryStore, registry, cache)
		res.Docs = append(res.Docs, docRes)
		switch docRes.Status {
		case StatusInserted:
			res.Inserted++
		case StatusUpdated:
			res.Updated++
		case StatusSkippedNotNewer:
			res.Skipped++
		case StatusFailed:
			res.Failed++
		}
		if docRes.Gaps > 0 {
			res.Warnings = append(res.Warnings, docRes.ConversationID+": imported with missing blob content")
		}
	}

	return res, nil
}

// applyDocument decodes, rewrites and writes one snapshot. Registry and
// content are updated together as one logical unit per document; the
// pre-pass backup is the recovery path if the process dies in between.
func (t *Transaction) applyDocument(
	file string,
	destRoot string,
	global *cursordb.Store,
	registryStore *cursordb.Store,
	registry *cursordb.Registry,
	cache *snapshot.BlobCache,
) DocResult {
	failed := func(id string, err error) DocResult {
		log.Warn().Str("file", file).Err(err).Msg("snapshot failed to import")
		return DocResult{ConversationID: id, Status: StatusFailed, Error: err.Error()}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return failed("", err)
	}
	doc, err := snapshot.Unmarshal(data)
	if err != nil {
		return failed("", err)
	}
	rec, _, err := snapshot.Decode(doc, cache)
	if err != nil {
		return failed(doc.ConversationID, err)
	}

	existing, ok, err := registry.Lookup(rec.ID)
	if err != nil {
		return failed(rec.ID, err)
	}
	status := StatusInserted
	if ok {
		if rec.LastUpdatedAt <= existing.LastUpdatedAt {
			log.Debug().Str("conversation", rec.ID).
				Int64("incoming", rec.LastUpdatedAt).
				Int64("existing", existing.LastUpdatedAt).
				Msg("destination is already current")
			return DocResult{ConversationID: rec.ID, Status: StatusSkippedNotNewer}
		}
		status = StatusUpdated
	}

	id := rec.ID
	rec, _, err = rewrite.Record(rec, doc.SourcePath, destRoot)
	if err != nil {
		return failed(id, err)
	}

	// gaps are counted here, once per unresolvable ref; the decode
	// warnings describe the same refs and are not added on top
	gaps := 0
	for _, ref := range doc.Blobs {
		if ref.Missing {
			gaps++
			continue
		}
		blob, ok, err := cache.Get(ref.Hash)
		if err != nil {
			return failed(rec.ID, err)
		}
		if !ok {
			gaps++
			continue
		}
		if err := global.WriteItem(cursordb.TableDiskKV, cursordb.PrefixContentBlob+ref.Hash, string(blob)); err != nil {
			return failed(rec.ID, err)
		}
	}

	if err := global.WriteItem(cursordb.TableDiskKV, cursordb.PrefixComposerData+rec.ID, string(rec.Body)); err != nil {
		return failed(rec.ID, err)
	}
	for bubbleID, payload := range rec.Bubbles {
		key := cursordb.PrefixBubble + rec.ID + ":" + bubbleID
		if err := global.WriteItem(cursordb.TableDiskKV, key, string(payload)); err != nil {
			return failed(rec.ID, err)
		}
	}
	for ctxKey, payload := range rec.Contexts {
		key := cursordb.PrefixMessageContext + rec.ID + ":" + ctxKey
		if err := global.WriteItem(cursordb.TableDiskKV, key, string(payload)); err != nil {
			return failed(rec.ID, err)
		}
	}

	entry, err := registryEntryFromBody(rec)
	if err != nil {
		return failed(rec.ID, err)
	}
	if err := registry.Upsert(entry); err != nil {
		return failed(rec.ID, err)
	}
	if err := registry.Save(registryStore); err != nil {
		return failed(rec.ID, err)
	}

	log.Info().Str("conversation", rec.ID).Str("status", string(status)).Int("gaps", gaps).Msg("snapshot imported")
	return DocResult{ConversationID: rec.ID, Status: status, Gaps: gaps}
}

func registryEntryFromBody(rec *snapshot.ConversationRecord) (cursordb.RegistryEntry, error) {
	var summary struct {
		Name          string `json:"name"`
		CreatedAt     int64  `json:"createdAt"`
		LastUpdatedAt int64  `json:"lastUpdatedAt"`
		UnifiedMode   string `json:"unifiedMode"`
		ForceMode     string `json:"forceMode"`
	}
	if err := json.Unmarshal(rec.Body, &summary); err != nil {
		return cursordb.RegistryEntry{}, errors.Wrap(err, "importer: parse body for registry entry")
	}
	name := summary.Name
	if name == "" {
		name = "Imported conversation"
	}
	return cursordb.RegistryEntry{
		ComposerID:    rec.ID,
		Name:          name,
		CreatedAt:     summary.CreatedAt,
		LastUpdatedAt: rec.LastUpdatedAt,
		UnifiedMode:   summary.UnifiedMode,
		ForceMode:     summary.ForceMode,
	}, nil
}

func (t *Transaction) findOrCreateWorkspace() (workspace.Handle, error) {
	handles, err := t.Env.FindForProject(t.ProjectPath)
	if err != nil {
		return workspace.Handle{}, err
	}
	if len(handles) > 0 {
		h := handles[0]
		if _, err := os.Stat(h.DBPath()); os.IsNotExist(err) {
			if err := cursordb.InitSchema(h.DBPath()); err != nil {
				return workspace.Handle{}, err
			}
		}
		return h, nil
	}
	return t.Env.CreateForProject(t.ProjectPath)
}

// findSnapshotDir locates the vault directory for the project: exact
// identity first, then the directory basename (covers ssh workspaces
// pushed from a host where the remote lookup failed), then a scan of
// each project dir's first document for a matching source basename.
func (t *Transaction) findSnapshotDir(projectID string) (string, bool) {
	exact := t.Vault.ProjectDir(projectID)
	if hasSnapshotFiles(exact) {
		return exact, true
	}

	basename := filepath.Base(normalizedProjectPath(t.ProjectPath))
	byBasename := t.Vault.ProjectDir(basename)
	if byBasename != exact && hasSnapshotFiles(byBasename) {
		return byBasename, true
	}

	entries, err := os.ReadDir(t.Vault.SnapshotsDir())
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(t.Vault.SnapshotsDir(), entry.Name())
		if dir == exact || dir == byBasename {
			continue
		}
		files, err := listSnapshotFiles(dir)
		if err != nil || len(files) == 0 {
			continue
		}
		data, err := os.ReadFile(files[0])
		if err != nil {
			continue
		}
		doc, err := snapshot.Unmarshal(data)
		if err != nil {
			continue
		}
		if doc.SourcePath != "" && filepath.Base(filepath.Clean(doc.SourcePath)) == basename {
			return dir, true
		}
	}
	return "", false
}

func listSnapshotFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "importer: read snapshot dir")
	}
	files := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func hasSnapshotFiles(dir string) bool {
	files, err := listSnapshotFiles(dir)
	return err == nil && len(files) > 0
}

func normalizedProjectPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}
