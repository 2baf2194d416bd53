package session

import (
	"context"
	"encoding/json"
)

// The collaborators below are external systems the orchestration core
// calls from within steps. They are specified only at this boundary;
// their failures surface as ordinary step failures and flow through the
// retry and error model.

// PromptContext is the opaque input to a language-model task.
type PromptContext struct {
	Task     string           `json:"task"`
	Messages []InboundMessage `json:"messages,omitempty"`
	Facts    json.RawMessage  `json:"facts,omitempty"`
}

// ModelTask invokes a language model and returns structured output.
type ModelTask interface {
	Invoke(ctx context.Context, prompt PromptContext) (json.RawMessage, error)
}

// RankedChunk is one retrieved piece of evidence.
type RankedChunk struct {
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// EvidenceRetriever runs vector-search retrieval for a set of queries.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, queries []string) ([]RankedChunk, error)
}

// EntityRef identifies a persisted business entity and its report.
type EntityRef struct {
	EntityID string `json:"entity_id"`
	ReportID string `json:"report_id"`
}

// EntityWriter persists a business entity together with its report in one
// atomic write.
type EntityWriter interface {
	CreateWithReport(ctx context.Context, payload json.RawMessage) (EntityRef, error)
}
