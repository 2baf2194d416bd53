package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBufferAppendDedup(t *testing.T) {
	t.Run("same run id coalesces", func(t *testing.T) {
		b := NewBuffer()
		assert.True(t, b.Append("a", "r1", ""))
		assert.False(t, b.Append("a", "r1", ""))
		assert.Equal(t, 1, b.Len())
	})

	t.Run("run id wins over differing content", func(t *testing.T) {
		b := NewBuffer()
		assert.True(t, b.Append("a", "r1", ""))
		assert.False(t, b.Append("b", "r1", ""))
		assert.Equal(t, 1, b.Len())
	})

	t.Run("parent message id used when run id absent", func(t *testing.T) {
		b := NewBuffer()
		assert.True(t, b.Append("a", "", "p1"))
		assert.False(t, b.Append("b", "", "p1"))
		assert.Equal(t, 1, b.Len())
	})

	t.Run("content hash is the last resort", func(t *testing.T) {
		b := NewBuffer()
		assert.True(t, b.Append("a", "", ""))
		assert.False(t, b.Append("a", "", ""))
		assert.True(t, b.Append("b", "", ""))
		assert.Equal(t, 2, b.Len())
	})

	t.Run("run id and content hash are distinct namespaces", func(t *testing.T) {
		b := NewBuffer()
		assert.True(t, b.Append("a", "r1", ""))
		// Same content, no run id: keyed by hash, so it is a new entry.
		assert.True(t, b.Append("a", "", ""))
		assert.Equal(t, 2, b.Len())
	})
}

func TestBufferDrain(t *testing.T) {
	b := NewBuffer()
	require.True(t, b.Append("first", "r1", ""))
	require.True(t, b.Append("second", "r2", ""))

	entries := b.Drain()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Content)
	assert.Equal(t, "second", entries[1].Content)
	assert.Equal(t, 0, b.Len())

	// The index resets too: previously seen keys are accepted again.
	assert.True(t, b.Append("first", "r1", ""))
}

// TestBufferDedupProperty checks that for any append sequence, the buffer
// never holds two entries with the same dedup key and preserves arrival
// order of the survivors.
func TestBufferDedupProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewBuffer()
		seen := make(map[string]bool)
		var wantOrder []string

		n := rapid.IntRange(0, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			content := rapid.StringMatching(`[a-c]{1,4}`).Draw(t, fmt.Sprintf("content%d", i))
			runID := rapid.SampledFrom([]string{"", "r1", "r2"}).Draw(t, fmt.Sprintf("run%d", i))
			parentID := rapid.SampledFrom([]string{"", "p1", "p2"}).Draw(t, fmt.Sprintf("parent%d", i))

			key := dedupKey(content, runID, parentID)
			fresh := b.Append(content, runID, parentID)
			if seen[key] {
				if fresh {
					t.Fatalf("duplicate key %q accepted", key)
				}
			} else {
				if !fresh {
					t.Fatalf("fresh key %q rejected", key)
				}
				seen[key] = true
				wantOrder = append(wantOrder, key)
			}
		}

		entries := b.Drain()
		if len(entries) != len(wantOrder) {
			t.Fatalf("buffer holds %d entries, want %d", len(entries), len(wantOrder))
		}
		for i, e := range entries {
			if e.Key != wantOrder[i] {
				t.Fatalf("entry %d has key %q, want %q", i, e.Key, wantOrder[i])
			}
		}
	})
}
