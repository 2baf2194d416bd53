// Package tool defines the side-effecting actions a session can take: a
// registry mapping tool names to executables with an approval
// classification, and an executor that runs tools under a retry policy.
package tool

import (
	"context"
	"encoding/json"
	"sync"
)

// Classification says whether a tool may run without a human decision.
type Classification string

const (
	// ClassAuto tools run as soon as they are proposed.
	ClassAuto Classification = "auto"
	// ClassNeedsApproval tools are gated behind a tool-approval interrupt.
	ClassNeedsApproval Classification = "needs_approval"
	// ClassUnknown is reported for names not in the registry.
	ClassUnknown Classification = "unknown"
)

// Proposal is a request to run a named tool with the given arguments.
type Proposal struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Result is the outcome of one tool execution. Exactly one of Output and
// Error is meaningful.
type Result struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// IsError reports whether the execution failed.
func (r Result) IsError() bool { return r.Error != "" }

// Tool is one named side-effecting action.
type Tool struct {
	// Name is the registry key.
	Name string

	// RequiresApproval gates the tool behind a human decision.
	RequiresApproval bool

	// Execute performs the action.
	Execute func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

	// Repair, when set, is consulted after retries exhaust. It may propose
	// corrective follow-up actions (for example regenerated arguments);
	// returning none means the failure is terminal for this tool.
	Repair func(ctx context.Context, args json.RawMessage, cause error) []Proposal
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Lookup returns the tool for name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Classify reports the approval classification for name. The answer is read
// from the registry on every call rather than cached on proposals, so a
// reclassified tool takes effect on the next proposal.
func (r *Registry) Classify(name string) Classification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return ClassUnknown
	}
	if t.RequiresApproval {
		return ClassNeedsApproval
	}
	return ClassAuto
}

// Names returns the registered tool names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
