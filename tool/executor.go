package tool

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scoutflow/scoutflow/retry"
	"github.com/scoutflow/scoutflow/types"
)

// NeedsRepairError is raised when a tool's retries exhaust but its Repair
// handler proposed corrective follow-up actions. The orchestrator converts
// it into a new approval-gated step instead of failing the session.
type NeedsRepairError struct {
	ToolName  string
	Proposals []Proposal
	Cause     error
}

func (e *NeedsRepairError) Error() string {
	return fmt.Sprintf("tool %s exhausted retries, %d repair proposal(s): %v",
		e.ToolName, len(e.Proposals), e.Cause)
}

func (e *NeedsRepairError) Unwrap() error { return e.Cause }

// Executor runs tools from a registry under a retry policy.
type Executor struct {
	registry *Registry
	retryer  *retry.Retryer
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRateLimit caps tool execution attempts across the executor. Useful
// when tools share an upstream quota.
func WithRateLimit(limiter *rate.Limiter) ExecutorOption {
	return func(e *Executor) { e.limiter = limiter }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy retry.Policy, logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		policy.Retryable = types.IsRetryable
		e.retryer = retry.New(policy, logger)
	}
}

// NewExecutor creates an Executor with the default retry policy. A nil
// logger defaults to a nop logger.
func NewExecutor(registry *Registry, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.DefaultPolicy()
	policy.Retryable = types.IsRetryable
	e := &Executor{
		registry: registry,
		retryer:  retry.New(policy, logger),
		logger:   logger.With(zap.String("component", "tool_executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one proposal to completion. Transient failures are retried
// with exponential backoff; non-retryable failures surface immediately.
// When retries exhaust and the tool has a Repair handler that proposes
// follow-ups, the error is a *NeedsRepairError wrapped in a
// types.KindNeedsRepair error.
func (e *Executor) Execute(ctx context.Context, proposal Proposal) (Result, error) {
	t, ok := e.registry.Lookup(proposal.ToolName)
	if !ok {
		return Result{}, types.Errorf(types.KindNonRetryable, "unknown tool %q", proposal.ToolName)
	}

	result := Result{ToolName: proposal.ToolName, Arguments: proposal.Arguments}

	var output []byte
	err := e.retryer.Do(ctx, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return types.NewError(types.KindNonRetryable, "rate limiter wait").WithCause(err)
			}
		}
		var execErr error
		output, execErr = t.Execute(ctx, proposal.Arguments)
		return execErr
	})
	if err == nil {
		result.Output = output
		return result, nil
	}

	e.logger.Warn("tool execution failed",
		zap.String("tool", proposal.ToolName),
		zap.String("kind", string(types.KindOf(err))),
		zap.Error(err),
	)

	if types.KindOf(err) == types.KindNonRetryable {
		return result, err
	}

	if t.Repair != nil {
		if proposals := t.Repair(ctx, proposal.Arguments, err); len(proposals) > 0 {
			repair := &NeedsRepairError{
				ToolName:  proposal.ToolName,
				Proposals: proposals,
				Cause:     err,
			}
			return result, types.NewError(types.KindNeedsRepair, repair.Error()).WithCause(repair)
		}
	}

	return result, err
}
