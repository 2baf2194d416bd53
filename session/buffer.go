package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// BufferedEntry is one deduplicated message held in the session buffer
// between runs.
type BufferedEntry struct {
	Key             string    `json:"key"`
	Content         string    `json:"content"`
	RunID           string    `json:"run_id,omitempty"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	BufferedAt      time.Time `json:"buffered_at"`
}

// Archiver receives the buffer's bulk flush. The batch must be persisted
// atomically; a failed flush leaves the buffer intact for a later retry.
type Archiver interface {
	SaveBatch(ctx context.Context, sessionID string, entries []BufferedEntry) error
}

// Buffer accumulates inbound content for an idle session, deduplicating by
// run id, then parent message id, then content hash — first matching key
// wins. It is only touched from the owning actor's goroutine, so it needs
// no locking of its own.
type Buffer struct {
	entries []BufferedEntry
	index   map[string]int
}

// NewBuffer creates an empty session buffer.
func NewBuffer() *Buffer {
	return &Buffer{index: make(map[string]int)}
}

// dedupKey derives the identity key for an append. Priority order is
// run_id, parent_message_id, content hash; the first non-empty field
// decides.
func dedupKey(content, runID, parentMessageID string) string {
	if runID != "" {
		return "run:" + runID
	}
	if parentMessageID != "" {
		return "parent:" + parentMessageID
	}
	sum := sha256.Sum256([]byte(content))
	return "content:" + hex.EncodeToString(sum[:])
}

// Append adds content to the buffer. It reports false when the entry was a
// duplicate and got coalesced with an existing one.
func (b *Buffer) Append(content, runID, parentMessageID string) bool {
	key := dedupKey(content, runID, parentMessageID)
	if _, ok := b.index[key]; ok {
		return false
	}
	b.index[key] = len(b.entries)
	b.entries = append(b.entries, BufferedEntry{
		Key:             key,
		Content:         content,
		RunID:           runID,
		ParentMessageID: parentMessageID,
		BufferedAt:      time.Now(),
	})
	return true
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int { return len(b.entries) }

// Drain returns the buffered entries in arrival order and empties the
// buffer.
func (b *Buffer) Drain() []BufferedEntry {
	entries := b.entries
	b.entries = nil
	b.index = make(map[string]int)
	return entries
}
