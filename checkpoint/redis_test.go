package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, "test:")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	written := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Put(ctx, &Checkpoint{
		InstanceID: "s1",
		StepIndex:  2,
		State:      json.RawMessage(`{"lifecycle":"running"}`),
		WrittenAt:  written,
	}))

	cp, err := s.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", cp.InstanceID)
	assert.Equal(t, 2, cp.StepIndex)
	assert.JSONEq(t, `{"lifecycle":"running"}`, string(cp.State))
	assert.True(t, cp.WrittenAt.Equal(written))
}

func TestRedisStoreLatestWins(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, &Checkpoint{
			InstanceID: "s1",
			StepIndex:  i,
			State:      json.RawMessage(fmt.Sprintf(`{"step":%d}`, i)),
			WrittenAt:  base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	cp, err := s.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.StepIndex)
}

func TestRedisStoreHistory(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, &Checkpoint{
			InstanceID: "s1",
			StepIndex:  i,
			State:      json.RawMessage(fmt.Sprintf(`{"step":%d}`, i)),
			WrittenAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := s.History(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 4, history[0].StepIndex)
	assert.Equal(t, 3, history[1].StepIndex)
	assert.Equal(t, 2, history[2].StepIndex)
}

func TestRedisStoreInstanceIsolation(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Checkpoint{InstanceID: "s1", StepIndex: 1}))
	require.NoError(t, s.Put(ctx, &Checkpoint{InstanceID: "s2", StepIndex: 7}))

	cp, err := s.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.StepIndex)

	cp, err = s.Latest(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 7, cp.StepIndex)
}
