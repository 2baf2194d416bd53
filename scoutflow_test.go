package scoutflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scoutflow/scoutflow/config"
	"github.com/scoutflow/scoutflow/session"
	"github.com/scoutflow/scoutflow/tool"
)

func approvalSteps() []session.Step {
	return []session.Step{{
		Name: "plan",
		Run: func(ctx context.Context, sc *session.StepContext) error {
			if _, err := sc.Await(session.PlanApproval{Steps: []string{"gather"}}); err != nil {
				return err
			}
			return sc.Finish("done")
		},
	}}
}

func TestNewRequiresStepsAndRegistry(t *testing.T) {
	cfg := config.Default()

	_, err := New(cfg, WithRegistry(tool.NewRegistry()))
	assert.Error(t, err)

	_, err = New(cfg, WithSteps(approvalSteps()))
	assert.Error(t, err)
}

func TestCoreInMemoryRoundTrip(t *testing.T) {
	cfg := config.Default()

	core, err := New(cfg,
		WithSteps(approvalSteps()),
		WithRegistry(tool.NewRegistry()),
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	defer core.Close()

	ctx := context.Background()
	require.NoError(t, core.Sessions.Send(ctx, "s1", session.NewMessage{Content: "scout", RunID: "r1"}))

	status, err := core.Sessions.Status(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.LifecycleWaitingForApproval, status.Lifecycle)

	require.NoError(t, core.Sessions.Send(ctx, "s1", session.Resume{Payload: session.ResumePayload{
		Type:     session.KindPlanApproval,
		Approved: true,
	}}))

	cp, err := core.Checkpoints().Latest(ctx, "s1")
	require.NoError(t, err)
	assert.NotEmpty(t, cp.State)
}

func TestCoreMetricsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false

	core, err := New(cfg,
		WithSteps(approvalSteps()),
		WithRegistry(tool.NewRegistry()),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	defer core.Close()

	require.NoError(t, core.Sessions.Send(context.Background(), "s1", session.NewMessage{Content: "scout", RunID: "r1"}))
}
