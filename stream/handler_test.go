package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutflow/scoutflow/broker"
	"github.com/scoutflow/scoutflow/checkpoint"
	"github.com/scoutflow/scoutflow/session"
	"github.com/scoutflow/scoutflow/task"
	"github.com/scoutflow/scoutflow/tool"
)

func newStreamFixture(t *testing.T) (*Handler, *session.Manager, *broker.MemoryBroker) {
	t.Helper()

	memBroker := broker.NewMemoryBroker(nil)
	registry := tool.NewRegistry()
	mgr, err := session.NewManager(session.Options{
		Steps: []session.Step{{
			Name: "plan",
			Run: func(ctx context.Context, sc *session.StepContext) error {
				if _, err := sc.Await(session.PlanApproval{Steps: []string{"gather"}}); err != nil {
					return err
				}
				return sc.Finish("done")
			},
		}},
		Checkpoints: checkpoint.NewMemoryStore(),
		Broker:      memBroker,
		Registry:    registry,
		Tasks:       task.NewExecutor(tool.NewExecutor(registry, nil), time.Minute, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		mgr.Close()
		memBroker.Close()
	})

	return NewHandler(mgr, memBroker, nil), mgr, memBroker
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestServeHTTPRequiresSessionID(t *testing.T) {
	handler, _, _ := newStreamFixture(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}

func TestStatusFrameThenLiveEvents(t *testing.T) {
	handler, mgr, _ := newStreamFixture(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Suspend the session first so the reconnecting consumer has a status
	// worth reading.
	require.NoError(t, mgr.Send(ctx, "s1", session.NewMessage{Content: "scout n9", RunID: "r1"}))

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/?session_id=s1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The first frame is always the status snapshot.
	first := readFrame(t, ctx, conn)
	require.Equal(t, "status", first.Type)
	require.NotNil(t, first.Status)
	assert.Equal(t, session.LifecycleWaitingForApproval, first.Status.Lifecycle)
	assert.Equal(t, session.KindPlanApproval, first.Status.PendingKind)

	// Give the handler a moment to attach its subscription after the
	// status write before events start flowing.
	time.Sleep(50 * time.Millisecond)

	// Live events follow once the session moves.
	require.NoError(t, mgr.Send(ctx, "s1", session.Resume{Payload: session.ResumePayload{
		Type:     session.KindPlanApproval,
		Approved: true,
	}}))

	for {
		f := readFrame(t, ctx, conn)
		require.NotNil(t, f.Event)
		if f.Event.Type == broker.EventFinal {
			assert.Equal(t, "s1", f.Event.SessionID)
			return
		}
	}
}

func TestUnknownSessionStreamsWithoutStatus(t *testing.T) {
	handler, _, memBroker := newStreamFixture(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/?session_id=ghost", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// No checkpoint exists, so no status frame; the connection still
	// receives live events for the id. Publish until the handler's
	// subscription picks one up, since subscribing races the dial.
	pubDone := make(chan struct{})
	defer close(pubDone)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-pubDone:
				return
			case <-ticker.C:
				ev, err := broker.NewEvent(broker.EventToken, "ghost", 0, map[string]string{"text": "hi"})
				if err != nil {
					return
				}
				_ = memBroker.Publish(ctx, "ghost", ev)
			}
		}
	}()

	f := readFrame(t, ctx, conn)
	require.NotNil(t, f.Event)
	assert.Equal(t, broker.EventToken, f.Event.Type)
}
