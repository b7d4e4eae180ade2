// Package loop1 implements the Theoretical Depth loop (diffuser/
// researcher pattern), per spec.md §4.4.1: a supervisor call per
// iteration picks one of {conduct_research, refine_draft, check_fact,
// research_complete}, terminating on completion, exhausted iterations,
// or persistent failure.
package loop1

import (
	"context"
	"fmt"
	"strings"

	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/papertools"
	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/DaveCBeck/thala-sub002/xerrors"
)

// ToolBudget bounds the conduct_research and check_fact tool-agent
// calls, matching Loop 4's tool-call/char budget shape since spec.md
// §4.4.1 does not give loop 1 its own numbers.
var ToolBudget = llm.ToolBudget{MaxToolCalls: 10, MaxTotalChars: 100_000}

// Deps bundles the backends loop1.Run closes over.
type Deps struct {
	Completion llm.Client
	PaperTools papertools.Deps
}

// ActionKind is the supervisor's decision sum type.
type ActionKind string

const (
	ActionConductResearch ActionKind = "conduct_research"
	ActionRefineDraft     ActionKind = "refine_draft"
	ActionCheckFact       ActionKind = "check_fact"
	ActionComplete        ActionKind = "research_complete"
)

// SupervisorDecision is the structured output of the per-iteration
// supervisor call.
type SupervisorDecision struct {
	Action    ActionKind `json:"action"`
	Questions []string   `json:"questions,omitempty"`
	Updates   string     `json:"updates,omitempty"`
	Gaps      []string   `json:"gaps,omitempty"`
	Claim     string     `json:"claim,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
}

type researchFindings struct {
	Findings []string `json:"findings"`
}

type factCheckVerdict struct {
	Verdict string `json:"verdict"`
	Detail  string `json:"detail"`
}

// Result is loop1.Run's outcome.
type Result struct {
	Findings          []string
	CompletenessScore float64
	IterationsRun     int
	TerminationReason string
}

// Run drives Loop 1 to termination, returning the updated shared state
// and a summary of what happened. questions seeds the initial gap list
// the supervisor reasons about on iteration 1.
func Run(ctx context.Context, deps Deps, shared review.Shared, questions []string) (review.Shared, Result, error) {
	tracker := &review.FailureTracker{}
	maxIter := shared.Quality.MaxIterations()
	gaps := append([]string(nil), questions...)
	var findings []string
	reason := "iterations_exhausted"
	iter := 0

loopBody:
	for iter = 1; iter <= maxIter; iter++ {
		decision, err := supervisorDecide(ctx, deps, shared.CurrentReview, findings, gaps, iter, maxIter)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(1, iter, "supervisor", err))
			if tracker.RecordFailure() {
				reason = "persistent_failure"
				break
			}
			continue
		}
		tracker.RecordSuccess()

		switch decision.Action {
		case ActionComplete:
			reason = "research_complete"
			score := completenessScore(len(findings), len(questions), iter, maxIter, len(gaps))
			return shared, Result{Findings: findings, CompletenessScore: score, IterationsRun: iter, TerminationReason: reason}, nil

		case ActionConductResearch:
			newFindings, err := conductResearch(ctx, deps, decision.Questions)
			if err != nil {
				shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(1, iter, "conduct_research", err))
				if tracker.RecordFailure() {
					reason = "persistent_failure"
					break loopBody
				}
				continue
			}
			findings = append(findings, newFindings...)

		case ActionRefineDraft:
			shared.CurrentReview = applyRefinement(shared.CurrentReview, decision.Updates)
			if len(decision.Gaps) > 0 {
				gaps = decision.Gaps
			}

		case ActionCheckFact:
			verdict, err := checkFact(ctx, deps, decision.Claim)
			if err == nil {
				findings = append(findings, fmt.Sprintf("fact-check(%q): %s — %s", decision.Claim, verdict.Verdict, verdict.Detail))
			}
		}
	}

	if iter > maxIter {
		iter = maxIter
	}
	score := completenessScore(len(findings), len(questions), iter, maxIter, len(gaps))
	return shared, Result{Findings: findings, CompletenessScore: score, IterationsRun: iter, TerminationReason: reason}, nil
}

func supervisorDecide(ctx context.Context, deps Deps, currentReview string, findings, gaps []string, iter, maxIter int) (*SupervisorDecision, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Iteration %d of %d. Decide the next theoretical-depth action for this review.\n\n", iter, maxIter)
	fmt.Fprintf(&prompt, "Current review:\n%s\n\n", currentReview)
	fmt.Fprintf(&prompt, "Findings so far (%d): %s\n\n", len(findings), strings.Join(findings, "; "))
	fmt.Fprintf(&prompt, "Open gaps: %s\n\n", strings.Join(gaps, "; "))
	prompt.WriteString("Choose exactly one action: conduct_research (with questions), refine_draft (with updates and " +
		"remaining gaps), check_fact (with a claim), or research_complete.")

	var decision SupervisorDecision
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierOpus, llm.DocumentAnalysisSystem, prompt.String(), &decision,
		llm.StructuredOptions{ThinkingBudget: 4000})
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

func conductResearch(ctx context.Context, deps Deps, questions []string) ([]string, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	toolDefs, handlers := papertools.ToolBindings(deps.PaperTools)

	var result researchFindings
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "Research these open questions using the bound tools, then submit findings " +
			"as a list of short claims with their support:\n\n" + strings.Join(questions, "\n")},
	}
	err := llm.RunToolAgent(ctx, deps.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, messages, handlers, toolDefs, &result, ToolBudget)
	if err != nil {
		return nil, err
	}
	return result.Findings, nil
}

func checkFact(ctx context.Context, deps Deps, claim string) (*factCheckVerdict, error) {
	if claim == "" {
		return nil, fmt.Errorf("loop1: check_fact: empty claim")
	}
	toolDefs, handlers := papertools.ToolBindings(deps.PaperTools)

	var result factCheckVerdict
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "Verify this claim using the bound tools, then submit a verdict " +
			"(supported/unsupported/uncertain) with a short supporting detail:\n\n" + claim},
	}
	err := llm.RunToolAgent(ctx, deps.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, messages, handlers, toolDefs, &result, ToolBudget)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// applyRefinement splices updates into the review. Loop 1's refine step
// is a textual append rather than a find/replace edit (unlike loop 4/5's
// Edit type), since the supervisor's "updates" are prose to incorporate,
// not a localized correction.
func applyRefinement(currentReview, updates string) string {
	if updates == "" {
		return currentReview
	}
	return strings.TrimSpace(currentReview) + "\n\n" + strings.TrimSpace(updates)
}

// completenessScore blends finding coverage against the seeded
// questions, iteration progress, and remaining gaps into a single
// [0,1] signal, per spec.md §4.4.1's "multi-signal score of finding
// count vs. questions, iteration progress, and gaps remaining" — the
// exact weighting is an implementation decision (see DESIGN.md).
func completenessScore(findingCount, questionCount, iter, maxIter, gapsRemaining int) float64 {
	coverage := 1.0
	if questionCount > 0 {
		coverage = float64(findingCount) / float64(questionCount)
		if coverage > 1 {
			coverage = 1
		}
	}
	progress := float64(iter) / float64(maxIter)
	if progress > 1 {
		progress = 1
	}
	gapsPenalty := 1.0
	if questionCount > 0 {
		gapsPenalty = 1 - float64(gapsRemaining)/float64(questionCount)
		if gapsPenalty < 0 {
			gapsPenalty = 0
		}
	}
	return 0.5*coverage + 0.2*progress + 0.3*gapsPenalty
}
