package session

import (
	"encoding/json"
	"fmt"

	"github.com/scoutflow/scoutflow/tool"
	"github.com/scoutflow/scoutflow/types"
)

// InterruptKind tags the variants of the interrupt union. The values
// double as the wire-level "type" field of a resume payload.
type InterruptKind string

const (
	// KindPlanApproval asks a human to approve or edit a proposed plan.
	KindPlanApproval InterruptKind = "plan_approval"
	// KindToolApproval asks a human to approve approval-gated tool calls.
	KindToolApproval InterruptKind = "tool_approval"
	// KindContentApproval asks a human to approve drafted report content.
	// The wire name is "player_approval" for compatibility with existing
	// consumers.
	KindContentApproval InterruptKind = "player_approval"
)

// Interrupt is a typed pause request raised by a step. Each variant
// carries enough data to render a decision UI and to validate the matching
// resume payload.
type Interrupt interface {
	Kind() InterruptKind
}

// PlanApproval pauses for sign-off on a proposed multi-step plan.
type PlanApproval struct {
	Steps []string `json:"steps"`
	Hints []string `json:"hints,omitempty"`
}

func (PlanApproval) Kind() InterruptKind { return KindPlanApproval }

// ToolApproval pauses for sign-off on approval-gated tool proposals.
type ToolApproval struct {
	Tools []tool.Proposal `json:"tools"`
}

func (ToolApproval) Kind() InterruptKind { return KindToolApproval }

// ContentApproval pauses for sign-off on drafted content, field by field.
type ContentApproval struct {
	Fields   map[string]string `json:"fields,omitempty"`
	Summary  string            `json:"summary"`
	FullText string            `json:"full_text"`
}

func (ContentApproval) Kind() InterruptKind { return KindContentApproval }

// PendingInterrupt is the persisted form of a raised interrupt, stored in
// the state blob between suspension and resume.
type PendingInterrupt struct {
	Kind      InterruptKind   `json:"kind"`
	StepIndex int             `json:"step_index"`
	Payload   json.RawMessage `json:"payload"`
}

// newPendingInterrupt serializes an interrupt for checkpointing.
func newPendingInterrupt(in Interrupt, stepIndex int) (*PendingInterrupt, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal interrupt payload: %w", err)
	}
	return &PendingInterrupt{Kind: in.Kind(), StepIndex: stepIndex, Payload: payload}, nil
}

// Decode reconstructs the typed variant from the persisted form.
func (p *PendingInterrupt) Decode() (Interrupt, error) {
	switch p.Kind {
	case KindPlanApproval:
		var v PlanApproval
		if err := json.Unmarshal(p.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode plan approval: %w", err)
		}
		return v, nil
	case KindToolApproval:
		var v ToolApproval
		if err := json.Unmarshal(p.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode tool approval: %w", err)
		}
		return v, nil
	case KindContentApproval:
		var v ContentApproval
		if err := json.Unmarshal(p.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode content approval: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown interrupt kind %q", p.Kind)
	}
}

// ResumePayload is the wire contract for a Resume signal. Type must match
// the pending interrupt's kind exactly.
type ResumePayload struct {
	Type InterruptKind `json:"type"`

	// Approved is the human decision. A rejected plan or content approval
	// with Edited set re-enters the drafting step; a plain rejection is
	// terminal for the pending action.
	Approved bool `json:"approved"`

	// Edited marks an approve-with-changes / revise decision, which keeps
	// the edit loop going.
	Edited bool `json:"edited,omitempty"`

	// Comment is free-form reviewer feedback.
	Comment string `json:"comment,omitempty"`

	// Fields carries variant-specific decision data: edited plan steps,
	// the subset of approved tools, or corrected content fields.
	Fields json.RawMessage `json:"fields,omitempty"`
}

// Resolution is the decision a step observes when its Await call returns.
type Resolution struct {
	Approved bool            `json:"approved"`
	Edited   bool            `json:"edited,omitempty"`
	Comment  string          `json:"comment,omitempty"`
	Fields   json.RawMessage `json:"fields,omitempty"`
}

// validateResume checks a resume payload against the pending interrupt and
// returns the resolution to bind. The match is exhaustive over the union;
// a mismatch or an absent pending interrupt is an invalid_resume error and
// leaves all state untouched.
func validateResume(pending *PendingInterrupt, payload ResumePayload) (Resolution, error) {
	if pending == nil {
		return Resolution{}, types.NewError(types.KindInvalidResume, "no interrupt pending")
	}

	switch payload.Type {
	case KindPlanApproval, KindToolApproval, KindContentApproval:
	default:
		return Resolution{}, types.Errorf(types.KindInvalidResume,
			"unknown resume type %q", payload.Type)
	}

	if payload.Type != pending.Kind {
		return Resolution{}, types.Errorf(types.KindInvalidResume,
			"resume type %q does not match pending interrupt %q", payload.Type, pending.Kind)
	}

	return Resolution{
		Approved: payload.Approved,
		Edited:   payload.Edited,
		Comment:  payload.Comment,
		Fields:   payload.Fields,
	}, nil
}

// suspendError is the sentinel a step returns (via StepContext.Await) to
// suspend the session. It never escapes the orchestrator.
type suspendError struct {
	interrupt Interrupt
}

func (e *suspendError) Error() string {
	return fmt.Sprintf("step suspended awaiting %s", e.interrupt.Kind())
}
