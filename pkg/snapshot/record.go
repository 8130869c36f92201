package snapshot

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// MessageHeader is the decoded view of one entry in the conversation's
// ordered header list. Order is conversational order and is preserved
// exactly through encode/decode.
type MessageHeader struct {
	BubbleID string `json:"bubbleId"`
	Type     int    `json:"type"`
}

// ConversationRecord is the in-memory decoded form of one chat session.
//
// The typed fields are a read-only view extracted from Body; Body itself
// is the authoritative payload and is carried as raw bytes so unknown
// fields, unrecognized mode strings and future upstream schema additions
// round-trip unchanged. The engine never interprets bubble payloads.
type ConversationRecord struct {
	ID            string
	Name          string
	CreatedAt     int64
	LastUpdatedAt int64
	Mode          string
	Headers       []MessageHeader

	Body     json.RawMessage
	Bubbles  map[string]json.RawMessage
	Contexts map[string]json.RawMessage

	// ContentRefs lists the content-hash references used by large
	// embedded blobs, resolved against the shared blob cache.
	ContentRefs []string
}

// bodySummary is the subset of the conversation body the engine needs
// to understand; everything else passes through untouched.
type bodySummary struct {
	Name          string          `json:"name"`
	CreatedAt     int64           `json:"createdAt"`
	LastUpdatedAt int64           `json:"lastUpdatedAt"`
	UnifiedMode   string          `json:"unifiedMode"`
	ForceMode     string          `json:"forceMode"`
	Headers       []MessageHeader `json:"fullConversationHeadersOnly"`
}

// RecordFromBody builds a record around a raw conversation body as read
// from the store.
func RecordFromBody(id string, body json.RawMessage) (*ConversationRecord, error) {
	var summary bodySummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, errors.Wrapf(err, "snapshot: parse conversation body %s", id)
	}

	mode := summary.UnifiedMode
	if mode == "" {
		mode = summary.ForceMode
	}
	lastUpdated := summary.LastUpdatedAt
	if lastUpdated == 0 {
		lastUpdated = summary.CreatedAt
	}

	return &ConversationRecord{
		ID:            id,
		Name:          summary.Name,
		CreatedAt:     summary.CreatedAt,
		LastUpdatedAt: lastUpdated,
		Mode:          mode,
		Headers:       summary.Headers,
		Body:          body,
		Bubbles:       map[string]json.RawMessage{},
		Contexts:      map[string]json.RawMessage{},
	}, nil
}
