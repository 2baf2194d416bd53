// Package task invokes units of session work: sequential steps under an
// activity timeout, and parallel fan-out of independent tool proposals
// joined before the next sequential step.
package task

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scoutflow/scoutflow/tool"
	"github.com/scoutflow/scoutflow/types"
)

// DefaultActivityTimeout bounds a single step invocation. Approval waits
// are represented as a suspension returned by the step, not as blocked
// time, so they are not subject to this timeout.
const DefaultActivityTimeout = 5 * time.Minute

// Executor runs steps and tool fan-outs for a session actor.
type Executor struct {
	tools           *tool.Executor
	activityTimeout time.Duration
	logger          *zap.Logger
}

// NewExecutor creates a task executor. A zero activityTimeout selects
// DefaultActivityTimeout; a nil logger defaults to a nop logger.
func NewExecutor(tools *tool.Executor, activityTimeout time.Duration, logger *zap.Logger) *Executor {
	if activityTimeout <= 0 {
		activityTimeout = DefaultActivityTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		tools:           tools,
		activityTimeout: activityTimeout,
		logger:          logger.With(zap.String("component", "task_executor")),
	}
}

// Tools exposes the underlying tool executor.
func (e *Executor) Tools() *tool.Executor { return e.tools }

// Run invokes one step function under the activity timeout. The step's own
// error (including a suspension sentinel) passes through untouched; only a
// deadline hit is rewritten into a transient timeout failure.
func (e *Executor) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, e.activityTimeout)
	defer cancel()

	start := time.Now()
	err := fn(stepCtx)
	elapsed := time.Since(start)

	if err != nil && errors.Is(err, context.DeadlineExceeded) && stepCtx.Err() != nil && ctx.Err() == nil {
		e.logger.Warn("step hit activity timeout",
			zap.String("step", name),
			zap.Duration("timeout", e.activityTimeout),
		)
		return types.Errorf(types.KindTransient, "step %s exceeded activity timeout %s", name, e.activityTimeout).WithCause(err)
	}

	e.logger.Debug("step finished",
		zap.String("step", name),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	return err
}

// FanOut runs the given proposals concurrently, one goroutine per
// proposal, and joins them all. A proposal's failure is captured in its
// Result and never aborts siblings; the caller sees every outcome
// together, tagged by originating proposal. Result order matches the
// proposal order.
func (e *Executor) FanOut(ctx context.Context, proposals []tool.Proposal) []tool.Result {
	results := make([]tool.Result, len(proposals))

	g, fanCtx := errgroup.WithContext(ctx)
	for i, proposal := range proposals {
		g.Go(func() error {
			res, err := e.tools.Execute(fanCtx, proposal)
			if err != nil {
				res.ToolName = proposal.ToolName
				res.Arguments = proposal.Arguments
				res.Error = err.Error()
			}
			results[i] = res
			// Errors are carried in the result; returning nil keeps the
			// group alive for the remaining siblings.
			return nil
		})
	}
	g.Wait()

	return results
}
