package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DocumentVersion is the snapshot document format version.
const DocumentVersion = 1

// BlobRef names one content-addressed blob a conversation uses. Missing
// marks a reference whose payload could not be resolved at export time;
// the gap is explicit, never silently dropped.
type BlobRef struct {
	Hash    string `json:"hash"`
	Missing bool   `json:"missing,omitempty"`
}

// Document is the persisted, self-contained form of one conversation.
// Together with the vault's blob cache it suffices to reconstruct the
// record without access to the source store. Documents are immutable
// once written and only superseded by a newer export of the same id.
//
// Field order, map key order (encoding/json sorts map keys) and the
// verbatim raw payloads make the encoding deterministic: re-exporting
// an unchanged conversation yields byte-identical output, so git shows
// no diff. No volatile field (export time, machine name) may ever be
// added here.
type Document struct {
	Version        int                        `json:"version"`
	ProjectID      string                     `json:"projectId"`
	SourcePath     string                     `json:"sourcePath"`
	ConversationID string                     `json:"conversationId"`
	Name           string                     `json:"name"`
	CreatedAt      int64                      `json:"createdAt"`
	LastUpdatedAt  int64                      `json:"lastUpdatedAt"`
	Mode           string                     `json:"mode"`
	Transcript     string                     `json:"transcript,omitempty"`
	Body           json.RawMessage            `json:"body"`
	Bubbles        map[string]json.RawMessage `json:"bubbles,omitempty"`
	Contexts       map[string]json.RawMessage `json:"contexts,omitempty"`
	Blobs          []BlobRef                  `json:"blobs,omitempty"`
}

// BlobSource resolves a content hash against the source store's
// content-addressed area.
type BlobSource interface {
	Blob(hash string) ([]byte, bool, error)
}

// Encode converts a record into a document, copying referenced blobs
// into the shared cache. A missing blob becomes a BlobRef with the
// Missing flag set plus a warning; partial data beats losing the rest
// of the conversation.
func Encode(rec *ConversationRecord, projectID, sourcePath string, blobs BlobSource, cache *BlobCache) (*Document, []string, error) {
	if rec == nil {
		return nil, nil, errors.New("snapshot: encode nil record")
	}

	warnings := []string{}
	refs := make([]BlobRef, 0, len(rec.ContentRefs))
	hashes := append([]string{}, rec.ContentRefs...)
	sort.Strings(hashes)
	for _, hash := range hashes {
		if cache.Has(hash) {
			refs = append(refs, BlobRef{Hash: hash})
			continue
		}
		data, ok, err := blobs.Blob(hash)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "snapshot: resolve blob %s", hash)
		}
		if !ok {
			warnings = append(warnings, fmt.Sprintf("conversation %s: blob %s missing from source store", rec.ID, hash))
			refs = append(refs, BlobRef{Hash: hash, Missing: true})
			continue
		}
		if _, err := cache.Put(hash, data); err != nil {
			return nil, nil, err
		}
		refs = append(refs, BlobRef{Hash: hash})
	}

	doc := &Document{
		Version:        DocumentVersion,
		ProjectID:      projectID,
		SourcePath:     sourcePath,
		ConversationID: rec.ID,
		Name:           rec.Name,
		CreatedAt:      rec.CreatedAt,
		LastUpdatedAt:  rec.LastUpdatedAt,
		Mode:           rec.Mode,
		Body:           compactRaw(rec.Body),
		Bubbles:        compactRawMap(rec.Bubbles),
		Contexts:       compactRawMap(rec.Contexts),
		Blobs:          refs,
	}
	return doc, warnings, nil
}

// Decode is the inverse of Encode. A blob referenced by the document but
// absent from the cache yields a record with a gap in that field,
// reported as a warning for the caller; one missing blob never aborts
// the conversation.
func Decode(doc *Document, cache *BlobCache) (*ConversationRecord, []string, error) {
	if doc == nil {
		return nil, nil, errors.New("snapshot: decode nil document")
	}
	if doc.Version != DocumentVersion {
		return nil, nil, errors.Errorf("snapshot: unsupported document version %d", doc.Version)
	}

	rec, err := RecordFromBody(doc.ConversationID, doc.Body)
	if err != nil {
		return nil, nil, err
	}
	rec.Bubbles = cloneRawMap(doc.Bubbles)
	rec.Contexts = cloneRawMap(doc.Contexts)

	warnings := []string{}
	for _, ref := range doc.Blobs {
		rec.ContentRefs = append(rec.ContentRefs, ref.Hash)
		if ref.Missing {
			warnings = append(warnings, fmt.Sprintf("conversation %s: blob %s was already missing at export time", doc.ConversationID, ref.Hash))
			continue
		}
		if !cache.Has(ref.Hash) {
			warnings = append(warnings, fmt.Sprintf("conversation %s: blob %s absent from cache", doc.ConversationID, ref.Hash))
		}
	}
	return rec, warnings, nil
}

// Marshal renders the document with stable key ordering and formatting.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: marshal document")
	}
	return append(data, '\n'), nil
}

func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "snapshot: parse document")
	}
	return &doc, nil
}

// compactRaw normalizes insignificant whitespace so the same stored
// value always encodes to the same bytes. Key order and number/string
// formatting inside the payload are preserved verbatim.
func compactRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		log.Warn().Err(err).Msg("payload is not valid JSON, keeping verbatim")
		return raw
	}
	return json.RawMessage(buf.Bytes())
}

func compactRawMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = compactRaw(v)
	}
	return out
}

func cloneRawMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage{}, v...)
	}
	return out
}
