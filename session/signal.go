package session

// Signal is an addressed, ordered input to a session. Signals for the same
// session id are processed strictly one at a time, in arrival order; the
// actor mailbox enforces the order, not the caller.
type Signal interface {
	signal()
}

// NewMessage starts (or queues) a run with fresh user input. RunID and
// ParentMessageID make redelivery idempotent: a duplicate RunID is
// acknowledged and dropped.
type NewMessage struct {
	Content         string `json:"content"`
	RunID           string `json:"run_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

func (NewMessage) signal() {}

// Resume supplies the human decision for the pending interrupt. The payload
// type must match the pending interrupt's kind; mismatches are rejected
// with an invalid_resume error and do not mutate session state.
type Resume struct {
	Payload ResumePayload `json:"payload"`
}

func (Resume) signal() {}

// BufferAppend adds content to the session buffer without starting a run.
// Duplicates are coalesced by run id, parent message id, or content hash,
// in that priority order.
type BufferAppend struct {
	Content         string `json:"content"`
	RunID           string `json:"run_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

func (BufferAppend) signal() {}

// Cancel requests cooperative cancellation of a running session. It is
// checked between steps, never forced mid-step.
type Cancel struct {
	Reason string `json:"reason,omitempty"`
}

func (Cancel) signal() {}
