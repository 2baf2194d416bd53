package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of an outward-facing event.
type EventType string

const (
	// EventToken is an incremental piece of model output.
	EventToken EventType = "token"
	// EventStepUpdate reports a completed step.
	EventStepUpdate EventType = "step_update"
	// EventInterrupt carries a pending approval request.
	EventInterrupt EventType = "interrupt"
	// EventToolStatus reports a tool transition (pending/running/done).
	EventToolStatus EventType = "tool_status"
	// EventHeartbeat is a keepalive with no progress implied.
	EventHeartbeat EventType = "heartbeat"
	// EventFinal carries the terminal result of a run.
	EventFinal EventType = "final"
	// EventError carries a terminal failure.
	EventError EventType = "error"
)

// Event is one entry in a session's outward stream. Events are ordered per
// session by SequenceNo; delivery is at-least-once, so consumers dedup on
// SequenceNo and tolerate gaps after a reconnect.
type Event struct {
	Type       EventType       `json:"type"`
	SessionID  string          `json:"session_id"`
	SequenceNo uint64          `json:"sequence_no"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewEvent builds an Event, JSON-encoding the payload. A nil payload
// produces an event with no payload (heartbeats).
func NewEvent(eventType EventType, sessionID string, seq uint64, payload any) (Event, error) {
	ev := Event{
		Type:       eventType,
		SessionID:  sessionID,
		SequenceNo: seq,
		Timestamp:  time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal event payload: %w", err)
		}
		ev.Payload = data
	}
	return ev, nil
}
