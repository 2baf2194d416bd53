// Package checkpoint persists workflow-instance snapshots at step
// boundaries. A checkpoint is immutable; the next one supersedes it rather
// than deleting it, so a crash at any point can resume from the latest
// snapshot. Retention of superseded checkpoints is an external concern.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for an instance.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is one immutable snapshot of a workflow instance, written
// after every step and before every suspension.
type Checkpoint struct {
	InstanceID string          `json:"instance_id"`
	StepIndex  int             `json:"step_index"`
	State      json.RawMessage `json:"state"`
	WrittenAt  time.Time       `json:"written_at"`
}

// Store is the durable keyed store for checkpoints.
type Store interface {
	// Put persists a checkpoint, superseding the instance's previous one.
	Put(ctx context.Context, cp *Checkpoint) error

	// Latest returns the most recent checkpoint for the instance, or
	// ErrNotFound when none was ever written.
	Latest(ctx context.Context, instanceID string) (*Checkpoint, error)

	// History returns up to limit checkpoints for the instance, newest
	// first. Backends may cap retained history.
	History(ctx context.Context, instanceID string, limit int) ([]*Checkpoint, error)
}
