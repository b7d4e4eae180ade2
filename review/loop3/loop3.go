// Package loop3 implements the Structure & Cohesion loop, per spec.md
// §4.4.3: a two-phase, section-rewrite pass over the current review —
// Phase A finds structural issues, Phase B rewrites the affected
// regions in reverse paragraph order, then an architecture
// verification gates whether another iteration runs.
package loop3

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/DaveCBeck/thala-sub002/xerrors"
)

// IssueType classifies a Phase A structural finding.
type IssueType string

const (
	IssueRedundancy        IssueType = "redundancy"
	IssueMissingTransition IssueType = "missing_transition"
	IssueMisplacedContent  IssueType = "misplaced_content"
	IssueSplitNeeded       IssueType = "split_needed"
	IssueOrdering          IssueType = "ordering"
	IssueMissingFraming    IssueType = "missing_framing"
)

// Resolution is a StructuralIssue's suggested fix.
type Resolution string

const (
	ResolutionRewrite Resolution = "rewrite"
	ResolutionMove    Resolution = "move"
	ResolutionSplit   Resolution = "split"
	ResolutionMerge   Resolution = "merge"
	ResolutionAdd     Resolution = "add"
)

// StructuralIssue is one Phase A finding.
type StructuralIssue struct {
	IssueID             string     `json:"issue_id"`
	Type                IssueType  `json:"type"`
	Severity            string     `json:"severity"`
	AffectedParagraphs  []int      `json:"affected_paragraphs"`
	SuggestedResolution Resolution `json:"suggested_resolution"`
	Description         string     `json:"description"`
}

// PhaseAResult is Phase A's structured output.
type PhaseAResult struct {
	Issues             []StructuralIssue `json:"issues"`
	OverallAssessment  string            `json:"overall_assessment"`
	NeedsRestructuring bool              `json:"needs_restructuring"`
}

// ArchitectureVerificationResult is the post-rewrite verification's
// structured output; the gate that decides whether Loop 3 iterates
// again reads straight off it.
type ArchitectureVerificationResult struct {
	CoherenceScore        float64  `json:"coherence_score"`
	IssuesResolved        []string `json:"issues_resolved"`
	IssuesRemaining       []string `json:"issues_remaining"`
	RegressionsIntroduced []string `json:"regressions_introduced"`
	NeedsAnotherIteration bool     `json:"needs_another_iteration"`
}

// CoherenceGate is the minimum coherence score that finalizes the loop
// without regard to remaining issues or regressions.
const CoherenceGate = 0.8

// Deps bundles the backends loop3.Run closes over.
type Deps struct {
	Completion llm.Client
}

// Result is loop3.Run's outcome.
type Result struct {
	IterationsRun     int
	TerminationReason string
	LastVerification  ArchitectureVerificationResult
}

// Run drives Loop 3 to termination. Budget is the shared quality's
// base iteration count plus one, per spec.md §4.4.3.
func Run(ctx context.Context, deps Deps, shared review.Shared) (review.Shared, Result, error) {
	tracker := &review.FailureTracker{}
	maxIter := shared.Quality.MaxIterations() + 1
	reason := "iterations_exhausted"
	var lastVerification ArchitectureVerificationResult
	iter := 0

loopBody:
	for iter = 1; iter <= maxIter; iter++ {
		paragraphs := numberParagraphs(shared.CurrentReview)

		phaseA, err := analyzeStructure(ctx, deps, paragraphs)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(3, iter, "phase_a", err))
			if tracker.RecordFailure() {
				reason = "persistent_failure"
				break
			}
			continue
		}

		if !phaseA.NeedsRestructuring || len(phaseA.Issues) == 0 {
			reason = "no_restructuring_needed"
			break
		}

		rewritten, err := applyRewrites(ctx, deps, paragraphs, phaseA.Issues)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(3, iter, "phase_b", err))
			if tracker.RecordFailure() {
				reason = "persistent_failure"
				break
			}
			continue
		}
		tracker.RecordSuccess()

		verification, err := Verify(ctx, deps, shared.CurrentReview, rewritten, phaseA.Issues)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(3, iter, "verify", err))
			if tracker.RecordFailure() {
				reason = "persistent_failure"
				break
			}
			continue
		}
		lastVerification = *verification
		shared.CurrentReview = rewritten

		needsMore := verification.CoherenceScore < CoherenceGate &&
			(len(verification.IssuesRemaining) > 0 || len(verification.RegressionsIntroduced) > 0)
		if !needsMore || iter == maxIter {
			reason = "coherence_reached"
			if needsMore {
				reason = "iterations_exhausted"
			}
			break loopBody
		}
	}

	return shared, Result{IterationsRun: iter, TerminationReason: reason, LastVerification: lastVerification}, nil
}

// numberParagraphs splits document on blank lines into P1..Pn.
func numberParagraphs(document string) []string {
	raw := strings.Split(strings.TrimSpace(document), "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) == "" {
			continue
		}
		paragraphs = append(paragraphs, p)
	}
	return paragraphs
}

func renderNumbered(paragraphs []string) string {
	var b strings.Builder
	for i, p := range paragraphs {
		fmt.Fprintf(&b, "P%d: %s\n\n", i+1, p)
	}
	return b.String()
}

func analyzeStructure(ctx context.Context, deps Deps, paragraphs []string) (*PhaseAResult, error) {
	prompt := "Identify structural issues in this paragraph-numbered review. For each issue give an id, type " +
		"(redundancy, missing_transition, misplaced_content, split_needed, ordering, missing_framing), severity, " +
		"the affected paragraph numbers, a suggested_resolution (rewrite, move, split, merge, add), and a description. " +
		"Also give an overall_assessment and whether needs_restructuring.\n\n" + renderNumbered(paragraphs)

	var result PhaseAResult
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierOpus, llm.DocumentAnalysisSystem, prompt, &result,
		llm.StructuredOptions{ThinkingBudget: 4000})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// applyRewrites resolves issues in reverse order of max affected
// paragraph, so earlier paragraph indices stay stable across edits to
// later ranges, per spec.md §5's Loop 3 ordering guarantee. Pure
// "move" resolutions are skipped — Phase B only rewrites in place.
func applyRewrites(ctx context.Context, deps Deps, paragraphs []string, issues []StructuralIssue) (string, error) {
	ordered := append([]StructuralIssue(nil), issues...)
	sort.Slice(ordered, func(i, j int) bool {
		return maxAffected(ordered[i]) > maxAffected(ordered[j])
	})

	working := append([]string(nil), paragraphs...)
	for _, issue := range ordered {
		if issue.SuggestedResolution == ResolutionMove || len(issue.AffectedParagraphs) == 0 {
			continue
		}
		start, end := paragraphRange(issue.AffectedParagraphs, len(working))
		contextStart := max(0, start-3)
		contextEnd := min(len(working)-1, end+3)

		rewritten, err := rewriteRegion(ctx, deps, issue, working[contextStart:contextEnd+1], start-contextStart, end-contextStart)
		if err != nil {
			return "", fmt.Errorf("loop3: rewrite issue %s: %w", issue.IssueID, err)
		}
		replacement := numberParagraphs(rewritten)
		if len(replacement) == 0 {
			continue
		}
		working = append(working[:start], append(replacement, working[end+1:]...)...)
	}
	return strings.Join(working, "\n\n"), nil
}

func maxAffected(issue StructuralIssue) int {
	m := 0
	for _, p := range issue.AffectedParagraphs {
		if p > m {
			m = p
		}
	}
	return m
}

// paragraphRange converts an issue's 1-indexed affected paragraph list
// into a 0-indexed [start, end] slice range, clamped to bounds.
func paragraphRange(affected []int, total int) (int, int) {
	start, end := affected[0]-1, affected[0]-1
	for _, p := range affected {
		idx := p - 1
		if idx < start {
			start = idx
		}
		if idx > end {
			end = idx
		}
	}
	if start < 0 {
		start = 0
	}
	if end >= total {
		end = total - 1
	}
	return start, end
}

func rewriteRegion(ctx context.Context, deps Deps, issue StructuralIssue, contextParagraphs []string, affectedStart, affectedEnd int) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "A %s issue (%s) was found: %s\n\n", issue.Type, issue.SuggestedResolution, issue.Description)
	prompt.WriteString("Context (surrounding paragraphs included for reference only, numbered within this window):\n\n")
	prompt.WriteString(renderNumbered(contextParagraphs))
	fmt.Fprintf(&prompt, "\nRewrite only paragraphs P%d through P%d of this window to resolve the issue. "+
		"Return the rewritten paragraphs only, separated by blank lines.\n", affectedStart+1, affectedEnd+1)

	var result struct {
		Rewritten string `json:"rewritten"`
	}
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, prompt.String(), &result,
		llm.StructuredOptions{})
	if err != nil {
		return "", err
	}
	return result.Rewritten, nil
}

// Verify asks for an ArchitectureVerificationResult comparing the
// pre- and post-rewrite review against the issues Phase B attempted to
// resolve. Split out as its own function so it is independently
// testable from the iterate/finalize gate in Run.
func Verify(ctx context.Context, deps Deps, before, after string, issues []StructuralIssue) (*ArchitectureVerificationResult, error) {
	var prompt strings.Builder
	prompt.WriteString("Compare the before/after review text against the attempted structural fixes and assess the result.\n\n")
	prompt.WriteString("Issues attempted:\n")
	for _, issue := range issues {
		fmt.Fprintf(&prompt, "- %s (%s): %s\n", issue.IssueID, issue.Type, issue.Description)
	}
	fmt.Fprintf(&prompt, "\nBefore:\n%s\n\nAfter:\n%s\n\n", before, after)
	prompt.WriteString("Return a coherence_score in [0,1], issues_resolved, issues_remaining, regressions_introduced, " +
		"and needs_another_iteration.")

	var result ArchitectureVerificationResult
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, prompt.String(), &result,
		llm.StructuredOptions{})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// MonotonicityHolds reports whether two successive verifications
// satisfy the soft monotonicity property: an increase in
// coherence_score must not come with an increase in the count of
// issues remaining.
func MonotonicityHolds(prev, curr ArchitectureVerificationResult) bool {
	if curr.CoherenceScore <= prev.CoherenceScore {
		return true
	}
	return len(curr.IssuesRemaining) <= len(prev.IssuesRemaining)
}

