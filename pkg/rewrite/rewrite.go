package rewrite

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatvault/pkg/snapshot"
)

// designatedRoots are the metadata keys known to carry absolute
// filesystem paths: context attachments (files, folders, terminals,
// rules) and per-token path details. Message content is never scanned
// or altered; only subtrees under these keys are touched.
var designatedRoots = map[string]struct{}{
	"context":      {},
	"tokenDetails": {},
}

// Record rewrites absolute paths embedded in a record's metadata from
// sourceRoot to destRoot. When sourceRoot is empty it is inferred as
// the longest common directory prefix of all candidate paths. The
// transformation is pure (the input record is not modified) and
// idempotent: rewriting an already-rewritten record is a no-op. Paths
// outside the recognized root (global config and the like) are left
// untouched.
func Record(rec *snapshot.ConversationRecord, sourceRoot, destRoot string) (*snapshot.ConversationRecord, bool, error) {
	if rec == nil {
		return nil, false, errors.New("rewrite: nil record")
	}
	if destRoot == "" || sourceRoot == destRoot {
		return rec, false, nil
	}
	if sourceRoot == "" {
		sourceRoot = inferRoot(rec)
		if sourceRoot == "" || sourceRoot == destRoot {
			return rec, false, nil
		}
	}

	rw := &rewriter{from: sourceRoot, to: destRoot}

	out := *rec
	body, bodyChanged, err := rw.rewriteDesignatedSubtrees(rec.Body)
	if err != nil {
		return nil, false, errors.Wrapf(err, "rewrite: conversation %s body", rec.ID)
	}
	out.Body = body

	changed := bodyChanged
	out.Bubbles = make(map[string]json.RawMessage, len(rec.Bubbles))
	for id, raw := range rec.Bubbles {
		next, c, err := rw.rewriteDesignatedSubtrees(raw)
		if err != nil {
			return nil, false, errors.Wrapf(err, "rewrite: conversation %s bubble %s", rec.ID, id)
		}
		out.Bubbles[id] = next
		changed = changed || c
	}

	out.Contexts = make(map[string]json.RawMessage, len(rec.Contexts))
	for key, raw := range rec.Contexts {
		next, c, err := rw.rewriteWhole(raw)
		if err != nil {
			return nil, false, errors.Wrapf(err, "rewrite: conversation %s context %s", rec.ID, key)
		}
		out.Contexts[key] = next
		changed = changed || c
	}

	if !changed {
		return rec, false, nil
	}
	return &out, true, nil
}

type rewriter struct {
	from    string
	to      string
	changed bool
}

// rewriteDesignatedSubtrees re-encodes only the designated top-level
// subtrees of a payload; everything else keeps its original bytes.
func (r *rewriter) rewriteDesignatedSubtrees(raw json.RawMessage) (json.RawMessage, bool, error) {
	if len(raw) == 0 {
		return raw, false, nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		// not an object, nothing designated to rewrite
		return raw, false, nil
	}

	changedAny := false
	for key := range designatedRoots {
		sub, ok := top[key]
		if !ok {
			continue
		}
		next, changed, err := r.rewriteWhole(sub)
		if err != nil {
			return nil, false, err
		}
		if changed {
			top[key] = next
			changedAny = true
		}
	}
	if !changedAny {
		return raw, false, nil
	}
	out, err := json.Marshal(top)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// rewriteWhole treats the entire payload as designated metadata.
func (r *rewriter) rewriteWhole(raw json.RawMessage) (json.RawMessage, bool, error) {
	if len(raw) == 0 {
		return raw, false, nil
	}
	v, err := decodeAny(raw)
	if err != nil {
		return nil, false, err
	}
	r.changed = false
	next := r.walk(v)
	if !r.changed {
		return raw, false, nil
	}
	out, err := json.Marshal(next)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (r *rewriter) walk(v any) any {
	switch t := v.(type) {
	case string:
		return r.rewriteString(t)
	case map[string]any:
		for k, child := range t {
			t[k] = r.walk(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = r.walk(child)
		}
		return t
	default:
		return v
	}
}

// rewriteString replaces the recognized root prefix in a plain path or
// in the path part of a file:// URI, preserving the remainder and any
// URI wrapper. Strings already under the destination root are skipped,
// which is what makes the rewrite idempotent.
func (r *rewriter) rewriteString(s string) string {
	if uri, rest, ok := splitURIScheme(s); ok {
		if hasRootPrefix(rest, r.to) {
			return s
		}
		if hasRootPrefix(rest, r.from) {
			r.changed = true
			return uri + r.to + rest[len(r.from):]
		}
		return s
	}
	if hasRootPrefix(s, r.to) {
		return s
	}
	if hasRootPrefix(s, r.from) {
		r.changed = true
		return r.to + s[len(r.from):]
	}
	return s
}

func splitURIScheme(s string) (scheme string, rest string, ok bool) {
	for _, prefix := range []string{"file://", "vscode-remote://"} {
		if strings.HasPrefix(s, prefix) {
			return prefix, s[len(prefix):], true
		}
	}
	return "", "", false
}

// hasRootPrefix matches a root only at a path-separator boundary, so
// /home/a never matches /home/abc.
func hasRootPrefix(s, root string) bool {
	if root == "" || !strings.HasPrefix(s, root) {
		return false
	}
	return len(s) == len(root) || s[len(root)] == '/'
}

// inferRoot derives the old project root as the longest common
// directory prefix of every candidate path in the record's designated
// metadata fields.
func inferRoot(rec *snapshot.ConversationRecord) string {
	collector := &pathCollector{}
	collector.collectDesignated(rec.Body)
	bubbleIDs := make([]string, 0, len(rec.Bubbles))
	for id := range rec.Bubbles {
		bubbleIDs = append(bubbleIDs, id)
	}
	sort.Strings(bubbleIDs)
	for _, id := range bubbleIDs {
		collector.collectDesignated(rec.Bubbles[id])
	}
	for _, raw := range rec.Contexts {
		collector.collectWhole(raw)
	}

	if len(collector.paths) == 0 {
		return ""
	}
	root := collector.paths[0]
	for _, p := range collector.paths[1:] {
		root = commonPrefix(root, p)
		if root == "" {
			return ""
		}
	}
	// trim back to the directory boundary
	if idx := strings.LastIndexByte(root, '/'); idx > 0 {
		root = root[:idx]
	} else if idx == 0 {
		return ""
	}
	return root
}

type pathCollector struct {
	paths []string
}

func (c *pathCollector) collectDesignated(raw json.RawMessage) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return
	}
	for key := range designatedRoots {
		if sub, ok := top[key]; ok {
			c.collectWhole(sub)
		}
	}
}

func (c *pathCollector) collectWhole(raw json.RawMessage) {
	v, err := decodeAny(raw)
	if err != nil {
		return
	}
	c.walk(v)
}

func (c *pathCollector) walk(v any) {
	switch t := v.(type) {
	case string:
		if _, rest, ok := splitURIScheme(t); ok {
			t = rest
		}
		if strings.HasPrefix(t, "/") {
			c.paths = append(c.paths, t)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c.walk(t[k])
		}
	case []any:
		for _, child := range t {
			c.walk(child)
		}
	}
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// decodeAny parses JSON preserving number literals, so re-encoding a
// rewritten subtree never reformats timestamps or ids.
func decodeAny(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
