package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func publishN(t *testing.T, b Broker, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ev, err := NewEvent(EventToken, sessionID, uint64(i), map[string]int{"i": i})
		require.NoError(t, err)
		require.NoError(t, b.Publish(context.Background(), sessionID, ev))
	}
}

func TestMemoryBrokerFanOut(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	sub1, err := b.Subscribe(ctx, "s1")
	require.NoError(t, err)
	sub2, err := b.Subscribe(ctx, "s1")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "s2")
	require.NoError(t, err)

	publishN(t, b, "s1", 3)

	for _, sub := range []Subscription{sub1, sub2} {
		for i := 0; i < 3; i++ {
			ev := <-sub.Events()
			assert.Equal(t, uint64(i), ev.SequenceNo)
			assert.Equal(t, "s1", ev.SessionID)
		}
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("subscriber for s2 received event for %s", ev.SessionID)
	default:
	}
}

func TestMemoryBrokerDropsOldestWhenSlow(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	// Overflow the subscriber buffer without draining it.
	publishN(t, b, "s1", subscriberBuffer+10)

	// The oldest events were dropped; what remains is a contiguous suffix,
	// so the consumer sees the gap as a single sequence jump.
	first := <-sub.Events()
	assert.Equal(t, uint64(10), first.SequenceNo)

	prev := first.SequenceNo
	for i := 0; i < subscriberBuffer-1; i++ {
		ev := <-sub.Events()
		assert.Equal(t, prev+1, ev.SequenceNo)
		prev = ev.SequenceNo
	}
}

func TestMemoryBrokerUnsubscribe(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "double close is a no-op")

	// Publishing after detach must not panic or block.
	publishN(t, b, "s1", 1)

	_, open := <-sub.Events()
	assert.False(t, open, "events channel closes with the subscription")
}

func TestMemoryBrokerClose(t *testing.T) {
	b := NewMemoryBroker(nil)
	sub, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, open := <-sub.Events()
	assert.False(t, open)

	err = b.Publish(context.Background(), "s1", Event{Type: EventToken})
	assert.Error(t, err)
	_, err = b.Subscribe(context.Background(), "s1")
	assert.Error(t, err)
}

// Delivered sequence numbers are strictly increasing per subscriber no
// matter how the publish volume relates to the buffer size: drops create
// gaps, never reorderings or duplicates.
func TestMemoryBrokerOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewMemoryBroker(nil)
		defer b.Close()

		sub, err := b.Subscribe(context.Background(), "s1")
		if err != nil {
			t.Fatal(err)
		}

		n := rapid.IntRange(0, subscriberBuffer*2).Draw(t, "events")
		for i := 0; i < n; i++ {
			ev, err := NewEvent(EventToken, "s1", uint64(i), nil)
			if err != nil {
				t.Fatal(err)
			}
			if err := b.Publish(context.Background(), "s1", ev); err != nil {
				t.Fatal(err)
			}
		}

		var last int64 = -1
		received := 0
		for {
			select {
			case ev := <-sub.Events():
				if int64(ev.SequenceNo) <= last {
					t.Fatalf("sequence %d after %d", ev.SequenceNo, last)
				}
				last = int64(ev.SequenceNo)
				received++
			default:
				if received > n {
					t.Fatalf("received %d events, published %d", received, n)
				}
				return
			}
		}
	})
}

func TestNewEventHeartbeatHasNoPayload(t *testing.T) {
	ev, err := NewEvent(EventHeartbeat, "s1", 7, nil)
	require.NoError(t, err)
	assert.Nil(t, ev.Payload)
	assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Second)
}
