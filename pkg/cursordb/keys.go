package cursordb

// Table names a key-value table inside a state.vscdb file. Only two
// exist: ItemTable carries per-workspace UI state, cursorDiskKV carries
// the large conversation payloads in the global store.
type Table string

const (
	TableItem   Table = "ItemTable"
	TableDiskKV Table = "cursorDiskKV"
)

// Keys and key prefixes the engine depends on. The registry key is an
// exact lookup; everything else is prefix-scanned.
const (
	// KeyComposerRegistry holds the per-project list of conversation
	// headers (ItemTable, workspace store).
	KeyComposerRegistry = "composer.composerData"

	// PrefixComposerData + <conversationId> holds the full conversation
	// body (cursorDiskKV, global store).
	PrefixComposerData = "composerData:"

	// PrefixBubble + <conversationId> + ":" + <bubbleId> holds one
	// message payload (cursorDiskKV, global store).
	PrefixBubble = "bubbleId:"

	// PrefixMessageContext + <conversationId> + ":" + <key> holds the
	// per-message request context (cursorDiskKV, global store).
	PrefixMessageContext = "messageRequestContext:"

	// PrefixContentBlob + <contentHash> addresses a large content blob
	// by the hash of its content (cursorDiskKV, global store).
	PrefixContentBlob = "composer.content."
)
