package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatvault/pkg/cursordb"
	"github.com/go-go-golems/chatvault/pkg/identity"
	"github.com/go-go-golems/chatvault/pkg/snapshot"
	"github.com/go-go-golems/chatvault/pkg/workspace"
)

// Pass exports every conversation of one project into the vault. It is
// purely additive on the source stores: reads run on temporary copies,
// safe while the editor is open.
type Pass struct {
	Env         workspace.Env
	Vault       workspace.Vault
	ProjectPath string
}

type Result struct {
	ProjectID     string
	Conversations int
	Exported      int
	Unchanged     int
	Warnings      []string
}

// Run performs one full export pass. Re-running with an unchanged
// source produces zero new writes: documents are deterministic and only
// written when their bytes differ from what is already in the vault.
func (p *Pass) Run(ctx context.Context) (*Result, error) {
	projectID := identity.Resolve(p.ProjectPath)
	res := &Result{ProjectID: projectID}

	handles, err := p.Env.FindForProject(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		log.Debug().Str("project", p.ProjectPath).Msg("no workspace found for project")
		return res, nil
	}

	entries, err := collectConversations(handles)
	if err != nil {
		return nil, err
	}
	res.Conversations = len(entries)
	if len(entries) == 0 {
		return res, nil
	}

	if err := p.Vault.EnsureManifest(); err != nil {
		return nil, err
	}
	cache, err := snapshot.NewBlobCache(p.Vault.BlobsDir())
	if err != nil {
		return nil, err
	}
	projectDir := p.Vault.ProjectDir(projectID)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "exporter: create project dir")
	}

	global := cursordb.Open(p.Env.GlobalDBPath())
	defer func() { _ = global.Close() }()

	blobKeys, err := global.ListKeys(cursordb.TableDiskKV, cursordb.PrefixContentBlob)
	if err != nil && !errors.Is(err, cursordb.ErrNoData) {
		return nil, err
	}
	transcriptDir := p.Env.TranscriptDir(p.ProjectPath)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, warnings, err := readConversation(global, entry.ComposerID, blobKeys)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, warnings...)
		if rec == nil {
			res.Warnings = append(res.Warnings, "conversation "+entry.ComposerID+": body missing from global store")
			continue
		}

		doc, encodeWarnings, err := snapshot.Encode(rec, projectID, normalizedProjectPath(p.ProjectPath), &storeBlobSource{store: global}, cache)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, encodeWarnings...)
		doc.Transcript = readTranscript(transcriptDir, entry.ComposerID)

		data, err := doc.Marshal()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(projectDir, entry.ComposerID+".json")
		existing, err := os.ReadFile(path)
		if err == nil && bytes.Equal(existing, data) {
			res.Unchanged++
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, errors.Wrapf(err, "exporter: write snapshot %s", entry.ComposerID)
		}
		res.Exported++
		log.Info().Str("conversation", entry.ComposerID).Str("name", entry.Name).Msg("exported snapshot")
	}

	return res, nil
}

// collectConversations merges the registries of every workspace store
// bound to the project, deduplicated by id, registry order preserved.
func collectConversations(handles []workspace.Handle) ([]cursordb.RegistryEntry, error) {
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

// readConversation assembles the full record for one conversation id:
// body, bubbles, per-message contexts and the content-hash references
// that actually occur in the payload bytes.
func readConversation(global *cursordb.Store, composerID string, blobKeys []string) (*snapshot.ConversationRecord, []string, error) {
	raw, ok, err := global.GetItem(cursordb.TableDiskKV, cursordb.PrefixComposerData+composerID)
	if err != nil {
		if errors.Is(err, cursordb.ErrNoData) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil
	}

	rec, err := snapshot.RecordFromBody(composerID, json.RawMessage(raw))
	if err != nil {
		return nil, nil, err
	}

	warnings := []string{}
	bubblePrefix := cursordb.PrefixBubble + composerID + ":"
	bubbleKeys, err := global.ListKeys(cursordb.TableDiskKV, bubblePrefix)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range bubbleKeys {
		value, ok, err := global.GetItem(cursordb.TableDiskKV, key)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		rec.Bubbles[strings.TrimPrefix(key, bubblePrefix)] = json.RawMessage(value)
	}

	contextPrefix := cursordb.PrefixMessageContext + composerID + ":"
	contextKeys, err := global.ListKeys(cursordb.TableDiskKV, contextPrefix)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range contextKeys {
		value, ok, err := global.GetItem(cursordb.TableDiskKV, key)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		rec.Contexts[strings.TrimPrefix(key, contextPrefix)] = json.RawMessage(value)
	}

	rec.ContentRefs = referencedHashes(rec, blobKeys)
	return rec, warnings, nil
}

// referencedHashes filters the store's content-addressed keys down to
// the hashes that occur in this conversation's payload bytes.
func referencedHashes(rec *snapshot.ConversationRecord, blobKeys []string) []string {
	if len(blobKeys) == 0 {
		return nil
	}
	var haystack bytes.Buffer
	haystack.Write(rec.Body)
	for _, b := range rec.Bubbles {
		haystack.Write(b)
	}
	payload := haystack.Bytes()

	refs := []string{}
	for _, key := range blobKeys {
		hash := strings.TrimPrefix(key, cursordb.PrefixContentBlob)
		if hash == "" {
			continue
		}
		if bytes.Contains(payload, []byte(hash)) {
			refs = append(refs, hash)
		}
	}
	return refs
}

type storeBlobSource struct {
	store *cursordb.Store
}

func (s *storeBlobSource) Blob(hash string) ([]byte, bool, error) {
	value, ok, err := s.store.GetItem(cursordb.TableDiskKV, cursordb.PrefixContentBlob+hash)
	if err != nil {
		return nil, false, err
	}
	return []byte(value), ok, nil
}

// readTranscript loads the plain-text agent transcript the editor keeps
// next to its stores. Transcripts are export-only context; the import
// path never writes them back.
func readTranscript(dir, composerID string) string {
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, composerID+".txt"))
	if err != nil {
		return ""
	}
	return string(data)
}

func normalizedProjectPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}
