package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutflow/scoutflow/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	return s
}

func TestSaveBatchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	entries := []session.BufferedEntry{
		{Key: "run:r1", Content: "first note", RunID: "r1", BufferedAt: base},
		{Key: "parent:m7", Content: "follow-up", ParentMessageID: "m7", BufferedAt: base.Add(time.Second)},
	}
	require.NoError(t, s.SaveBatch(ctx, "s1", entries))

	rows, err := s.BySession(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "first note", rows[0].Content)
	assert.Equal(t, "r1", rows[0].RunID)
	assert.Equal(t, "run:r1", rows[0].DedupKey)
	assert.Equal(t, "s1", rows[0].SessionID)
	assert.NotEmpty(t, rows[0].ID)
	assert.False(t, rows[0].ArchivedAt.IsZero())

	assert.Equal(t, "follow-up", rows[1].Content)
	assert.Equal(t, "m7", rows[1].ParentMessageID)
}

func TestSaveBatchEmptyIsNoOp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveBatch(context.Background(), "s1", nil))

	rows, err := s.BySession(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBySessionIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveBatch(ctx, "s1", []session.BufferedEntry{
		{Key: "run:a", Content: "for s1", BufferedAt: now},
	}))
	require.NoError(t, s.SaveBatch(ctx, "s2", []session.BufferedEntry{
		{Key: "run:b", Content: "for s2", BufferedAt: now},
	}))

	rows, err := s.BySession(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "for s1", rows[0].Content)
}

func TestBySessionOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	// Insert out of chronological order; reads come back oldest first.
	entries := []session.BufferedEntry{
		{Key: "k3", Content: "third", BufferedAt: base.Add(3 * time.Minute)},
		{Key: "k1", Content: "first", BufferedAt: base.Add(1 * time.Minute)},
		{Key: "k2", Content: "second", BufferedAt: base.Add(2 * time.Minute)},
	}
	require.NoError(t, s.SaveBatch(ctx, "s1", entries))

	rows, err := s.BySession(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "first", rows[0].Content)
	assert.Equal(t, "second", rows[1].Content)
}
