package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutflow/scoutflow/retry"
	"github.com/scoutflow/scoutflow/tool"
	"github.com/scoutflow/scoutflow/types"
)

func newTaskExecutor(registry *tool.Registry, activityTimeout time.Duration) *Executor {
	toolExec := tool.NewExecutor(registry, nil, tool.WithRetryPolicy(retry.Policy{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
	}, nil))
	return NewExecutor(toolExec, activityTimeout, nil)
}

func TestRunPassesStepErrorThrough(t *testing.T) {
	exec := newTaskExecutor(tool.NewRegistry(), time.Minute)

	sentinel := types.NewError(types.KindNonRetryable, "step refused")
	err := exec.Run(context.Background(), "draft", func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	err = exec.Run(context.Background(), "draft", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestRunActivityTimeoutIsTransient(t *testing.T) {
	exec := newTaskExecutor(tool.NewRegistry(), 20*time.Millisecond)

	err := exec.Run(context.Background(), "slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	require.Error(t, err)
	assert.Equal(t, types.KindTransient, types.KindOf(err))
}

func TestRunParentCancellationNotRewritten(t *testing.T) {
	exec := newTaskExecutor(tool.NewRegistry(), time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := exec.Run(ctx, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.NotEqual(t, types.KindTransient, types.KindOf(err),
		"caller cancellation must not masquerade as a step timeout")
}

func TestFanOutIsolatesFailures(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(tool.Tool{
		Name: "fetch",
		Execute: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var req struct {
				Fail bool   `json:"fail"`
				ID   string `json:"id"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, err
			}
			if req.Fail {
				return nil, types.Errorf(types.KindNonRetryable, "source %s unavailable", req.ID)
			}
			return json.RawMessage(fmt.Sprintf(`{"id":%q}`, req.ID)), nil
		},
	})
	exec := newTaskExecutor(registry, time.Minute)

	proposals := []tool.Proposal{
		{ToolName: "fetch", Arguments: json.RawMessage(`{"id":"a"}`)},
		{ToolName: "fetch", Arguments: json.RawMessage(`{"id":"b","fail":true}`)},
		{ToolName: "fetch", Arguments: json.RawMessage(`{"id":"c"}`)},
	}
	results := exec.FanOut(context.Background(), proposals)
	require.Len(t, results, 3)

	// One failure never contaminates its siblings, and results keep the
	// proposal order.
	assert.False(t, results[0].IsError())
	assert.JSONEq(t, `{"id":"a"}`, string(results[0].Output))
	assert.True(t, results[1].IsError())
	assert.Contains(t, results[1].Error, "source b unavailable")
	assert.Equal(t, "fetch", results[1].ToolName)
	assert.False(t, results[2].IsError())
	assert.JSONEq(t, `{"id":"c"}`, string(results[2].Output))
}

func TestFanOutRunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	registry := tool.NewRegistry()
	registry.Register(tool.Tool{
		Name: "probe",
		Execute: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return json.RawMessage(`{}`), nil
		},
	})
	exec := newTaskExecutor(registry, time.Minute)

	proposals := make([]tool.Proposal, 4)
	for i := range proposals {
		proposals[i] = tool.Proposal{ToolName: "probe"}
	}
	results := exec.FanOut(context.Background(), proposals)
	require.Len(t, results, 4)
	assert.Greater(t, peak.Load(), int32(1), "proposals must overlap in time")
}

func TestFanOutEmpty(t *testing.T) {
	exec := newTaskExecutor(tool.NewRegistry(), time.Minute)
	assert.Empty(t, exec.FanOut(context.Background(), nil))
}
