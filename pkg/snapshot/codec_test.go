package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type blobSourceMap map[string][]byte

func (m blobSourceMap) Blob(hash string) ([]byte, bool, error) {
	b, ok := m[hash]
	return b, ok, nil
}

func sampleBody() json.RawMessage {
	return json.RawMessage(`{
		"name": "fix crash on startup",
		"createdAt": 1700000000000,
		"lastUpdatedAt": 1700000005000,
		"unifiedMode": "agent",
		"fullConversationHeadersOnly": [
			{"bubbleId": "b1", "type": 1},
			{"bubbleId": "b2", "type": 2}
		],
		"unknownUpstreamField": {"keep": true}
	}`)
}

func sampleRecord(t *testing.T) *ConversationRecord {
	t.Helper()
	rec, err := RecordFromBody("conv-1", sampleBody())
	require.NoError(t, err)
	rec.Bubbles["b1"] = json.RawMessage(`{"type":1,"text":"it crashes on startup"}`)
	rec.Bubbles["b2"] = json.RawMessage(`{"type":2,"text":"found it"}`)
	rec.Contexts["ctx-1"] = json.RawMessage(`{"files":[]}`)
	return rec
}

func TestRecordFromBody(t *testing.T) {
	rec, err := RecordFromBody("conv-1", sampleBody())
	require.NoError(t, err)
	require.Equal(t, "fix crash on startup", rec.Name)
	require.Equal(t, int64(1700000000000), rec.CreatedAt)
	require.Equal(t, int64(1700000005000), rec.LastUpdatedAt)
	require.Equal(t, "agent", rec.Mode)
	require.Len(t, rec.Headers, 2)
	require.Equal(t, "b1", rec.Headers[0].BubbleID)
	require.Equal(t, "b2", rec.Headers[1].BubbleID)
}

func TestRecordFromBodyFallbacks(t *testing.T) {
	rec, err := RecordFromBody("conv-2", json.RawMessage(`{"createdAt":42,"forceMode":"chat"}`))
	require.NoError(t, err)
	require.Equal(t, int64(42), rec.LastUpdatedAt, "lastUpdatedAt falls back to createdAt")
	require.Equal(t, "chat", rec.Mode, "mode falls back to forceMode")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cache, err := NewBlobCache(t.TempDir())
	require.NoError(t, err)

	blob := []byte("a very large pasted file content")
	hash := HashContent(blob)
	rec := sampleRecord(t)
	rec.ContentRefs = []string{hash}

	doc, warnings, err := Encode(rec, "github.com-acme-widgets", "/home/u/widgets", blobSourceMap{hash: blob}, cache)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.True(t, cache.Has(hash), "referenced blob must land in the cache")
	require.Equal(t, []BlobRef{{Hash: hash}}, doc.Blobs)

	decoded, warnings, err := Decode(doc, cache)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, rec.ID, decoded.ID)
	require.Equal(t, rec.Name, decoded.Name)
	require.Equal(t, rec.LastUpdatedAt, decoded.LastUpdatedAt)
	require.Equal(t, rec.Headers, decoded.Headers)
	require.Equal(t, []string{hash}, decoded.ContentRefs)
	require.JSONEq(t, string(rec.Bubbles["b1"]), string(decoded.Bubbles["b1"]))
	require.JSONEq(t, string(rec.Contexts["ctx-1"]), string(decoded.Contexts["ctx-1"]))

	// unknown upstream fields survive the round trip byte-exact
	require.Contains(t, string(decoded.Body), `"unknownUpstreamField"`)
}

func TestEncodeIsDeterministic(t *testing.T) {
	cache, err := NewBlobCache(t.TempDir())
	require.NoError(t, err)

	encode := func() []byte {
		doc, _, err := Encode(sampleRecord(t), "p", "/src", blobSourceMap{}, cache)
		require.NoError(t, err)
		data, err := doc.Marshal()
		require.NoError(t, err)
		return data
	}

	first := encode()
	second := encode()
	require.Equal(t, first, second, "re-encoding an unchanged record must be byte-identical")
	require.Equal(t, byte('\n'), first[len(first)-1], "documents end with a trailing newline")
}

func TestEncodeMissingBlob(t *testing.T) {
	cache, err := NewBlobCache(t.TempDir())
	require.NoError(t, err)

	rec := sampleRecord(t)
	rec.ContentRefs = []string{HashContent([]byte("gone"))}

	doc, warnings, err := Encode(rec, "p", "/src", blobSourceMap{}, cache)
	require.NoError(t, err, "a missing blob degrades the document, it does not abort it")
	require.Len(t, warnings, 1)
	require.Len(t, doc.Blobs, 1)
	require.True(t, doc.Blobs[0].Missing)

	decoded, warnings, err := Decode(doc, cache)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.NotNil(t, decoded)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	cache, err := NewBlobCache(t.TempDir())
	require.NoError(t, err)

	doc, _, err := Encode(sampleRecord(t), "p", "/src", blobSourceMap{}, cache)
	require.NoError(t, err)
	doc.Version = DocumentVersion + 1

	_, _, err = Decode(doc, cache)
	require.Error(t, err)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cache, err := NewBlobCache(t.TempDir())
	require.NoError(t, err)

	doc, _, err := Encode(sampleRecord(t), "p", "/src", blobSourceMap{}, cache)
	require.NoError(t, err)
	data, err := doc.Marshal()
	require.NoError(t, err)

	parsed, err := Unmarshal(data)
	require.NoError(t, err)
	reparsed, err := parsed.Marshal()
	require.NoError(t, err)
	require.Equal(t, data, reparsed)
}
