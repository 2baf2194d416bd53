package session

import (
	"context"
	"encoding/json"

	"github.com/scoutflow/scoutflow/broker"
	"github.com/scoutflow/scoutflow/tool"
)

// Step is one unit of sequential work within a session's run. Steps must
// be deterministic given the blob: a re-entered step (after a resume or a
// crash) runs again from its beginning, so side effects belong in tools
// and intermediate results in blob facts.
type Step struct {
	Name string
	Run  func(ctx context.Context, sc *StepContext) error
}

// StepContext is the step author's window into the session: the blob,
// outbound events, tool fan-out, the interrupt primitive, and the external
// collaborators.
type StepContext struct {
	actor *actor

	// SessionID is the owning session's id.
	SessionID string

	// Blob is the session's accumulated state. Mutations are checkpointed
	// when the step completes or suspends.
	Blob *Blob
}

// Await pauses the session for a human decision on the given interrupt.
// From the step's perspective this is a single call that returns the
// decision; the runtime implements it as a full suspend: the step's error
// return carries the interrupt out, the orchestrator checkpoints and parks
// the session, and a later matching Resume re-enters the step from its
// beginning with the decision bound, at which point Await returns it.
//
// A step that raises several interrupts must therefore persist earlier
// results in the blob, since everything before the Await re-runs.
func (sc *StepContext) Await(in Interrupt) (Resolution, error) {
	blob := sc.Blob
	if blob.Decision != nil && blob.Pending != nil && blob.Pending.Kind == in.Kind() {
		decision := *blob.Decision
		blob.Pending = nil
		blob.Decision = nil
		return decision, nil
	}
	return Resolution{}, &suspendError{interrupt: in}
}

// Inputs returns the messages driving the current run.
func (sc *StepContext) Inputs() []InboundMessage {
	return sc.Blob.Inputs
}

// EmitToken publishes an incremental piece of output to the event stream.
func (sc *StepContext) EmitToken(ctx context.Context, text string) {
	sc.actor.publish(ctx, broker.EventToken, map[string]string{"text": text})
}

// EmitToolStatus publishes a tool lifecycle transition
// (pending/running/done) to the event stream.
func (sc *StepContext) EmitToolStatus(ctx context.Context, toolName, status string) {
	sc.actor.publish(ctx, broker.EventToolStatus, map[string]string{
		"tool":   toolName,
		"status": status,
	})
}

// FanOut executes the auto-executable subset of proposals concurrently and
// joins all results before returning. Proposals classified as
// needs_approval or unknown are not run; they come back as error results
// so the step can route them through a ToolApproval interrupt instead.
func (sc *StepContext) FanOut(ctx context.Context, proposals []tool.Proposal) []tool.Result {
	auto := make([]tool.Proposal, 0, len(proposals))
	results := make([]tool.Result, 0, len(proposals))
	gated := make(map[int]tool.Result)

	for i, p := range proposals {
		switch sc.actor.mgr.registry.Classify(p.ToolName) {
		case tool.ClassAuto:
			auto = append(auto, p)
		case tool.ClassNeedsApproval:
			gated[i] = tool.Result{
				ToolName:  p.ToolName,
				Arguments: p.Arguments,
				Error:     "tool requires approval",
			}
		default:
			gated[i] = tool.Result{
				ToolName:  p.ToolName,
				Arguments: p.Arguments,
				Error:     "unknown tool",
			}
		}
	}

	executed := sc.actor.mgr.tasks.FanOut(ctx, auto)

	next := 0
	for i := range proposals {
		if res, ok := gated[i]; ok {
			results = append(results, res)
			continue
		}
		results = append(results, executed[next])
		next++
	}
	return results
}

// ExecuteTool runs a single proposal through the retrying tool executor.
func (sc *StepContext) ExecuteTool(ctx context.Context, proposal tool.Proposal) (tool.Result, error) {
	return sc.actor.mgr.tasks.Tools().Execute(ctx, proposal)
}

// Classify reports a proposal's approval classification, read fresh from
// the registry.
func (sc *StepContext) Classify(name string) tool.Classification {
	return sc.actor.mgr.registry.Classify(name)
}

// Pending returns the persisted pending interrupt, if any. Steps use it
// after an orchestrator-raised tool approval (the repair flow) to recover
// the proposals under decision before consuming the resolution with Await.
func (sc *StepContext) Pending() *PendingInterrupt {
	return sc.Blob.Pending
}

// Model returns the language-model collaborator, or nil when not wired.
func (sc *StepContext) Model() ModelTask { return sc.actor.mgr.model }

// Evidence returns the retrieval collaborator, or nil when not wired.
func (sc *StepContext) Evidence() EvidenceRetriever { return sc.actor.mgr.evidence }

// Entities returns the business-entity writer, or nil when not wired.
func (sc *StepContext) Entities() EntityWriter { return sc.actor.mgr.entities }

// Finish records the run's terminal payload. The orchestrator publishes it
// in the final event once the step sequence completes.
func (sc *StepContext) Finish(result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	sc.Blob.Result = data
	return nil
}
