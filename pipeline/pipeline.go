// Package pipeline assembles the standard scouting step sequence: plan the
// task and get it approved, gather evidence through tools and retrieval,
// draft the report, put the draft through content approval, then persist
// the scouted entity. Each step keeps its intermediate results in blob
// facts, so re-entry after an approval or a crash never repeats finished
// work.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scoutflow/scoutflow/session"
	"github.com/scoutflow/scoutflow/tool"
	"github.com/scoutflow/scoutflow/types"
)

// Fact keys shared between steps.
const (
	factPlan     = "plan"
	factEvidence = "evidence"
	factToolRuns = "tool_runs"
	factDraft    = "draft"
)

// Options tunes the assembled pipeline.
type Options struct {
	// Proposals maps an approved plan to the tool calls the gather step
	// fans out. Optional; without it the gather step only runs retrieval.
	Proposals func(plan []string) []tool.Proposal
}

// Steps returns the scouting pipeline.
func Steps(opts Options) []session.Step {
	return []session.Step{
		{Name: "plan", Run: runPlan},
		{Name: "gather", Run: gatherStep(opts.Proposals)},
		{Name: "draft", Run: runDraft},
		{Name: "review", Run: runReview},
		{Name: "persist", Run: runPersist},
	}
}

// draft is the reviewable report payload.
type draft struct {
	Summary  string `json:"summary"`
	FullText string `json:"full_text"`
	Revision int    `json:"revision"`
}

// runPlan derives a plan from the run's inputs and holds it for approval.
// An edited approval replaces the plan with the reviewer's version.
func runPlan(ctx context.Context, sc *session.StepContext) error {
	plan := buildPlan(sc.Inputs())

	res, err := sc.Await(session.PlanApproval{Steps: plan})
	if err != nil {
		return err
	}
	if !res.Approved {
		return types.Errorf(types.KindCancelled, "plan rejected: %s", res.Comment)
	}
	if res.Edited && len(res.Fields) > 0 {
		var edited []string
		if uerr := json.Unmarshal(res.Fields, &edited); uerr != nil {
			return types.NewError(types.KindNonRetryable, "edited plan is not a string list").WithCause(uerr)
		}
		plan = edited
	}
	return sc.Blob.SetFact(factPlan, plan)
}

func buildPlan(inputs []session.InboundMessage) []string {
	plan := make([]string, 0, len(inputs)+2)
	for _, in := range inputs {
		plan = append(plan, "analyze: "+in.Content)
	}
	plan = append(plan, "gather evidence", "draft report")
	return plan
}

// gatherStep runs retrieval and the approved tool fan-out, storing both in
// the blob for the drafting step.
func gatherStep(proposals func(plan []string) []tool.Proposal) func(ctx context.Context, sc *session.StepContext) error {
	return func(ctx context.Context, sc *session.StepContext) error {
		var plan []string
		if _, err := sc.Blob.Fact(factPlan, &plan); err != nil {
			return err
		}

		if retriever := sc.Evidence(); retriever != nil {
			chunks, err := retriever.Retrieve(ctx, plan)
			if err != nil {
				return fmt.Errorf("retrieve evidence: %w", err)
			}
			if err := sc.Blob.SetFact(factEvidence, chunks); err != nil {
				return err
			}
		}

		if proposals != nil {
			if props := proposals(plan); len(props) > 0 {
				results := sc.FanOut(ctx, props)
				for _, res := range results {
					status := "done"
					if res.IsError() {
						status = "failed"
					}
					sc.EmitToolStatus(ctx, res.ToolName, status)
				}
				if err := sc.Blob.SetFact(factToolRuns, results); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// runDraft produces the report draft, through the model when one is wired
// and from the gathered facts otherwise.
func runDraft(ctx context.Context, sc *session.StepContext) error {
	// A re-run after a crash keeps the revision count of any draft already
	// in the blob.
	var existing draft
	if _, err := sc.Blob.Fact(factDraft, &existing); err != nil {
		return err
	}

	if model := sc.Model(); model != nil {
		facts, err := json.Marshal(sc.Blob.Facts)
		if err != nil {
			return err
		}
		out, err := model.Invoke(ctx, session.PromptContext{
			Task:     "draft_report",
			Messages: sc.Inputs(),
			Facts:    facts,
		})
		if err != nil {
			return fmt.Errorf("draft report: %w", err)
		}
		var d draft
		if err := json.Unmarshal(out, &d); err != nil {
			return types.NewError(types.KindNonRetryable, "model returned malformed draft").WithCause(err)
		}
		d.Revision = existing.Revision
		return sc.Blob.SetFact(factDraft, d)
	}

	d := assembleDraft(sc)
	d.Revision = existing.Revision
	return sc.Blob.SetFact(factDraft, d)
}

func assembleDraft(sc *session.StepContext) draft {
	var plan []string
	_, _ = sc.Blob.Fact(factPlan, &plan)

	var chunks []session.RankedChunk
	_, _ = sc.Blob.Fact(factEvidence, &chunks)

	var b strings.Builder
	b.WriteString("Scouting report\n\n")
	for _, item := range plan {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	if len(chunks) > 0 {
		b.WriteString("\nEvidence:\n")
		for _, c := range chunks {
			fmt.Fprintf(&b, "- %s\n", c.Content)
		}
	}

	summary := "Scouting report"
	if len(plan) > 0 {
		summary = plan[0]
	}
	return draft{Summary: summary, FullText: b.String()}
}

// runReview holds the draft for content approval. An edited decision sends
// the run back through drafting with the reviewer's corrections folded in;
// the orchestrator bounds how often that can happen.
func runReview(ctx context.Context, sc *session.StepContext) error {
	var d draft
	if _, err := sc.Blob.Fact(factDraft, &d); err != nil {
		return err
	}

	for {
		res, err := sc.Await(session.ContentApproval{
			Summary:  d.Summary,
			FullText: d.FullText,
			Fields:   map[string]string{"revision": fmt.Sprint(d.Revision)},
		})
		if err != nil {
			return err
		}
		if !res.Approved {
			return types.Errorf(types.KindCancelled, "report rejected: %s", res.Comment)
		}
		if !res.Edited {
			return nil
		}

		// Fold the reviewer's corrections into the draft and re-present it.
		if len(res.Fields) > 0 {
			var fields map[string]string
			if uerr := json.Unmarshal(res.Fields, &fields); uerr != nil {
				return types.NewError(types.KindNonRetryable, "edited fields are not a string map").WithCause(uerr)
			}
			if v, ok := fields["summary"]; ok {
				d.Summary = v
			}
			if v, ok := fields["full_text"]; ok {
				d.FullText = v
			}
		}
		d.Revision++
		if err := sc.Blob.SetFact(factDraft, d); err != nil {
			return err
		}
	}
}

// runPersist writes the approved report through the entity writer and
// finishes the run with the resulting reference.
func runPersist(ctx context.Context, sc *session.StepContext) error {
	var d draft
	if _, err := sc.Blob.Fact(factDraft, &d); err != nil {
		return err
	}

	if writer := sc.Entities(); writer != nil {
		payload, err := json.Marshal(d)
		if err != nil {
			return err
		}
		ref, err := writer.CreateWithReport(ctx, payload)
		if err != nil {
			return fmt.Errorf("persist scouted entity: %w", err)
		}
		return sc.Finish(ref)
	}
	return sc.Finish(d)
}
