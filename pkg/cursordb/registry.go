package cursordb

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// RegistryEntry is the typed view of one conversation header in the
// aggregate registry key. Unknown fields of entries the engine does not
// touch are preserved verbatim; an entry is only re-encoded when the
// import transaction replaces it.
type RegistryEntry struct {
	ComposerID    string `json:"composerId"`
	Name          string `json:"name,omitempty"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
	LastUpdatedAt int64  `json:"lastUpdatedAt,omitempty"`
	UnifiedMode   string `json:"unifiedMode,omitempty"`
	ForceMode     string `json:"forceMode,omitempty"`
}

// Registry wraps the per-project conversation list stored under
// KeyComposerRegistry. Top-level keys other than the ones the engine
// understands pass through untouched.
type Registry struct {
	top      map[string]json.RawMessage
	entries  []json.RawMessage
	selected []string
}

// LoadRegistry reads the registry from a store's read copy. A missing
// key yields an empty registry, not an error.
func LoadRegistry(s *Store) (*Registry, error) {
	r := &Registry{
		top:      map[string]json.RawMessage{},
		entries:  []json.RawMessage{},
		selected: []string{},
	}
	ok, err := s.GetJSON(TableItem, KeyComposerRegistry, &r.top)
	if err != nil {
		return nil, err
	}
	if !ok {
		return r, nil
	}
	if raw, ok := r.top["allComposers"]; ok {
		if err := json.Unmarshal(raw, &r.entries); err != nil {
			return nil, errors.Wrap(err, "cursordb: parse allComposers")
		}
	}
	if raw, ok := r.top["selectedComposerIds"]; ok {
		if err := json.Unmarshal(raw, &r.selected); err != nil {
			return nil, errors.Wrap(err, "cursordb: parse selectedComposerIds")
		}
	}
	return r, nil
}

// Entries decodes the typed view of every registered conversation, in
// registry order.
func (r *Registry) Entries() ([]RegistryEntry, error) {
	out := make([]RegistryEntry, 0, len(r.entries))
	for _, raw := range r.entries {
		var e RegistryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, errors.Wrap(err, "cursordb: parse registry entry")
		}
		out = append(out, e)
	}
	return out, nil
}

// Lookup returns the typed entry for a conversation id.
func (r *Registry) Lookup(composerID string) (RegistryEntry, bool, error) {
	entries, err := r.Entries()
	if err != nil {
		return RegistryEntry{}, false, err
	}
	for _, e := range entries {
		if e.ComposerID == composerID {
			return e, true, nil
		}
	}
	return RegistryEntry{}, false, nil
}

// Upsert updates or appends the entry for e.ComposerID and marks the
// conversation selected so the editor's sidebar shows it. On update the
// typed fields are overwritten in place; fields the engine does not
// understand stay on the entry untouched.
func (r *Registry) Upsert(e RegistryEntry) error {
	patch, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "cursordb: marshal registry entry")
	}
	var patchFields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &patchFields); err != nil {
		return errors.Wrap(err, "cursordb: reparse registry entry")
	}

	replaced := false
	for i, existing := range r.entries {
		var key struct {
			ComposerID string `json:"composerId"`
		}
		if err := json.Unmarshal(existing, &key); err != nil {
			continue
		}
		if key.ComposerID != e.ComposerID {
			continue
		}
		merged := map[string]json.RawMessage{}
		if err := json.Unmarshal(existing, &merged); err != nil {
			return errors.Wrap(err, "cursordb: parse registry entry")
		}
		for k, v := range patchFields {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return errors.Wrap(err, "cursordb: merge registry entry")
		}
		r.entries[i] = raw
		replaced = true
		break
	}
	if !replaced {
		r.entries = append(r.entries, patch)
	}

	for _, id := range r.selected {
		if id == e.ComposerID {
			return nil
		}
	}
	r.selected = append(r.selected, e.ComposerID)
	return nil
}

// Save writes the registry back to the ORIGINAL store file.
func (r *Registry) Save(s *Store) error {
	entries, err := json.Marshal(r.entries)
	if err != nil {
		return err
	}
	selected, err := json.Marshal(r.selected)
	if err != nil {
		return err
	}
	r.top["allComposers"] = entries
	r.top["selectedComposerIds"] = selected
	return s.WriteJSON(TableItem, KeyComposerRegistry, r.top)
}
