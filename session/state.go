package session

import (
	"encoding/json"
	"time"
)

// Lifecycle is the session state machine's current state.
type Lifecycle string

const (
	// LifecycleInitialized is a freshly created instance, no checkpoint yet.
	LifecycleInitialized Lifecycle = "initialized"
	// LifecycleWaitingForInput is idle between runs.
	LifecycleWaitingForInput Lifecycle = "waiting_for_input"
	// LifecycleRunning is executing the step sequence.
	LifecycleRunning Lifecycle = "running"
	// LifecycleWaitingForApproval is suspended on a pending interrupt.
	LifecycleWaitingForApproval Lifecycle = "waiting_for_approval"
	// LifecycleBulkPersist is flushing the session buffer before shutdown.
	LifecycleBulkPersist Lifecycle = "bulk_persist"
	// LifecycleTerminated is fully closed; a new message recreates the
	// session from durable storage.
	LifecycleTerminated Lifecycle = "terminated"
)

// InboundMessage is one accepted user input, recorded in the blob so a
// resumed run sees the same inputs as the original.
type InboundMessage struct {
	Content         string    `json:"content"`
	RunID           string    `json:"run_id,omitempty"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Blob is everything a resumed execution needs: accumulated facts, partial
// results, the pending interrupt, the bound resume decision, and loop and
// sequence counters. It is serialized whole into every checkpoint.
type Blob struct {
	// Inputs are the messages driving the current run.
	Inputs []InboundMessage `json:"inputs,omitempty"`

	// Facts accumulates step outputs keyed by step name.
	Facts map[string]json.RawMessage `json:"facts,omitempty"`

	// Result holds the terminal payload once the run completes.
	Result json.RawMessage `json:"result,omitempty"`

	// Pending is the raised, not-yet-consumed interrupt, if any.
	Pending *PendingInterrupt `json:"pending,omitempty"`

	// Decision is the validated resume resolution awaiting consumption by
	// the re-entered step.
	Decision *Resolution `json:"decision,omitempty"`

	// EditIterations counts interrupt re-raises per step and kind, bounding
	// approve/reject/edit cycles.
	EditIterations map[string]int `json:"edit_iterations,omitempty"`

	// SeenRunIDs makes redelivered NewMessage signals idempotent.
	SeenRunIDs map[string]bool `json:"seen_run_ids,omitempty"`

	// NextSeq is the next event sequence number. Persisted at checkpoint
	// boundaries, so a restart may replay a few sequence numbers; consumers
	// dedup on them.
	NextSeq uint64 `json:"next_seq"`
}

func newBlob() *Blob {
	return &Blob{
		Facts:          make(map[string]json.RawMessage),
		EditIterations: make(map[string]int),
		SeenRunIDs:     make(map[string]bool),
	}
}

// SetFact stores a step output in the blob.
func (b *Blob) SetFact(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if b.Facts == nil {
		b.Facts = make(map[string]json.RawMessage)
	}
	b.Facts[key] = data
	return nil
}

// Fact decodes a stored step output into out, reporting whether the key
// exists.
func (b *Blob) Fact(key string, out any) (bool, error) {
	data, ok := b.Facts[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

// Instance is the durable per-session workflow state. It is owned
// exclusively by the session's actor; the mailbox serializes all access.
type Instance struct {
	ID             string    `json:"id"`
	Lifecycle      Lifecycle `json:"lifecycle"`
	StepIndex      int       `json:"step_index"`
	Blob           *Blob     `json:"blob"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func newInstance(id string) *Instance {
	now := time.Now()
	return &Instance{
		ID:             id,
		Lifecycle:      LifecycleInitialized,
		Blob:           newBlob(),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// persistedState is the checkpoint encoding of an Instance.
type persistedState struct {
	Lifecycle      Lifecycle `json:"lifecycle"`
	StepIndex      int       `json:"step_index"`
	Blob           *Blob     `json:"blob"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// encodeState serializes the instance for a checkpoint.
func (inst *Instance) encodeState() (json.RawMessage, error) {
	return json.Marshal(persistedState{
		Lifecycle:      inst.Lifecycle,
		StepIndex:      inst.StepIndex,
		Blob:           inst.Blob,
		CreatedAt:      inst.CreatedAt,
		LastActivityAt: inst.LastActivityAt,
	})
}

// restoreInstance rebuilds an Instance from a checkpoint's state.
func restoreInstance(id string, state json.RawMessage) (*Instance, error) {
	var ps persistedState
	if err := json.Unmarshal(state, &ps); err != nil {
		return nil, err
	}
	inst := &Instance{
		ID:             id,
		Lifecycle:      ps.Lifecycle,
		StepIndex:      ps.StepIndex,
		Blob:           ps.Blob,
		CreatedAt:      ps.CreatedAt,
		LastActivityAt: ps.LastActivityAt,
	}
	if inst.Blob == nil {
		inst.Blob = newBlob()
	}
	if inst.Blob.Facts == nil {
		inst.Blob.Facts = make(map[string]json.RawMessage)
	}
	if inst.Blob.EditIterations == nil {
		inst.Blob.EditIterations = make(map[string]int)
	}
	if inst.Blob.SeenRunIDs == nil {
		inst.Blob.SeenRunIDs = make(map[string]bool)
	}
	return inst, nil
}

// Status is the answer to the reconnect status query: enough for a
// consumer joining mid-stream to know where the session stands without
// replaying history.
type Status struct {
	SessionID      string        `json:"session_id"`
	Lifecycle      Lifecycle     `json:"lifecycle"`
	StepIndex      int           `json:"step_index"`
	PendingKind    InterruptKind `json:"pending_kind,omitempty"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}
