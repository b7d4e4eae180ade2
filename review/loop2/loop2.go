// Package loop2 implements the Literature Base Expansion loop, per
// spec.md §4.4.2: an analyzer decides a new literature base to expand,
// a mini-review is run against it, and the result is spliced into the
// running review.
package loop2

import (
	"context"
	"fmt"
	"strings"

	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/papertools"
	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/DaveCBeck/thala-sub002/xerrors"
)

// AnalyzerAction is the Loop 2 analyzer's decision sum type.
type AnalyzerAction string

const (
	ActionExpandBase AnalyzerAction = "expand_base"
	ActionComplete   AnalyzerAction = "complete"
	ActionError      AnalyzerAction = "error"
)

// LiteratureBase names one corner of the literature to expand into,
// with the queries to run and how its findings should be merged.
type LiteratureBase struct {
	Name                string   `json:"name"`
	SearchQueries       []string `json:"search_queries"`
	IntegrationStrategy string   `json:"integration_strategy"`
}

// LiteratureBaseDecision is the analyzer's structured output.
type LiteratureBaseDecision struct {
	Action      AnalyzerAction  `json:"action"`
	Base        *LiteratureBase `json:"base,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
}

// MiniReviewResult is what run_mini_review returns: a self-contained
// review of one literature base plus the DOI→bib_key map it
// established, for the caller to fold into its corpus references.
type MiniReviewResult struct {
	Text        string
	DOIToBibKey map[string]string
}

// MiniReviewRunner invokes the reduced-quality academic lit-review
// subworkflow for a single literature base. The orchestrator supplies
// the concrete implementation; loop2 only depends on the interface so
// it does not need to import the full review pipeline it is itself
// one stage of.
type MiniReviewRunner interface {
	Run(ctx context.Context, base LiteratureBase, quality review.Quality) (MiniReviewResult, error)
}

// Deps bundles the backends loop2.Run closes over.
type Deps struct {
	Completion llm.Client
	MiniReview MiniReviewRunner
}

// Result is loop2.Run's outcome.
type Result struct {
	ExploredBases     []string
	IterationsRun     int
	TerminationReason string
}

// Run drives Loop 2 to termination: each iteration the analyzer either
// names a new base to expand, declares completion, or reports an
// error; expand_base runs a mini-review and splices it into the
// shared review text before the next analyzer call.
func Run(ctx context.Context, deps Deps, shared review.Shared) (review.Shared, Result, error) {
	tracker := &review.FailureTracker{}
	maxIter := shared.Quality.MaxIterations()
	reason := "iterations_exhausted"
	iter := 0

	if shared.ZoteroKeys == nil {
		shared.ZoteroKeys = map[string]bool{}
	}

loopBody:
	for iter = 1; iter <= maxIter; iter++ {
		decision, err := analyzerDecide(ctx, deps, shared.CurrentReview, shared.ExploredBases)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(2, iter, "analyzer", err))
			if tracker.RecordFailure() {
				reason = "persistent_failure"
				break
			}
			continue
		}

		switch decision.Action {
		case ActionComplete:
			reason = "analyzer_complete"
			tracker.RecordSuccess()
			break loopBody

		case ActionError:
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(2, iter, "analyzer",
				fmt.Errorf("loop2: analyzer reported error: %s", decision.ErrorDetail)))
			if tracker.RecordFailure() {
				reason = "persistent_failure"
				break loopBody
			}
			continue

		case ActionExpandBase:
			if decision.Base == nil {
				shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(2, iter, "analyzer",
					fmt.Errorf("loop2: expand_base decision missing base")))
				if tracker.RecordFailure() {
					reason = "persistent_failure"
					break loopBody
				}
				continue
			}

			miniQuality := review.Quality{MaxStages: reducedStages(shared.Quality.MaxIterations())}
			miniResult, err := deps.MiniReview.Run(ctx, *decision.Base, miniQuality)
			if err != nil {
				shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(2, iter, "run_mini_review", err))
				if tracker.RecordFailure() {
					reason = "persistent_failure"
					break loopBody
				}
				continue
			}

			integrated, err := integrateFindings(ctx, deps, shared.CurrentReview, decision.Base.IntegrationStrategy, miniResult.Text)
			if err != nil {
				shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(2, iter, "integrate_findings", err))
				if tracker.RecordFailure() {
					reason = "persistent_failure"
					break loopBody
				}
				continue
			}

			shared.CurrentReview = integrated
			shared.ExploredBases = append(shared.ExploredBases, decision.Base.Name)
			for doi, bibKey := range miniResult.DOIToBibKey {
				_ = doi
				shared.ZoteroKeys[bibKey] = true
			}
			tracker.RecordSuccess()
		}
	}

	return shared, Result{ExploredBases: shared.ExploredBases, IterationsRun: iter, TerminationReason: reason}, nil
}

// reducedStages derives run_mini_review's "reduced quality preset"
// from the parent loop's budget, per spec.md §4.4.2. A mini-review
// runs with roughly half the parent's iteration budget, floored at 1.
func reducedStages(parentMaxIter int) int {
	reduced := parentMaxIter / 2
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}

func analyzerDecide(ctx context.Context, deps Deps, currentReview string, exploredBases []string) (*LiteratureBaseDecision, error) {
	var prompt strings.Builder
	prompt.WriteString("Decide the next literature-base-expansion action for this review.\n\n")
	fmt.Fprintf(&prompt, "Current review:\n%s\n\n", currentReview)
	fmt.Fprintf(&prompt, "Bases already explored: %s\n\n", strings.Join(exploredBases, ", "))
	prompt.WriteString("Choose exactly one action: expand_base (with a new literature base name, search queries, and " +
		"an integration strategy describing how its findings should be merged), complete, or error (with a detail).")

	var decision LiteratureBaseDecision
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierOpus, llm.DocumentAnalysisSystem, prompt.String(), &decision,
		llm.StructuredOptions{})
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

func integrateFindings(ctx context.Context, deps Deps, currentReview, strategy, miniReview string) (string, error) {
	var prompt strings.Builder
	prompt.WriteString("Splice the following mini-review into the current review, following the declared integration strategy.\n\n")
	fmt.Fprintf(&prompt, "Integration strategy: %s\n\n", strategy)
	fmt.Fprintf(&prompt, "Current review:\n%s\n\n", currentReview)
	fmt.Fprintf(&prompt, "Mini-review to integrate:\n%s\n\n", miniReview)
	prompt.WriteString("Return the full updated review text.")

	var result struct {
		Review string `json:"review"`
	}
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierOpus, llm.DocumentAnalysisSystem, prompt.String(), &result,
		llm.StructuredOptions{})
	if err != nil {
		return "", err
	}
	return result.Review, nil
}

// DefaultMiniReviewRunner runs a minimal academic lit-review subworkflow
// over a literature base's search queries: fan the queries out against
// the paper corpus, then ask an LLM to synthesize the hits into a short
// review. Grounded on ingest's summary_agent shape for the
// search-then-summarize step; papertools' corpus-scoped PaperResult
// carries no DOI, so DOIToBibKey maps each hit's bib_key to itself
// rather than a true external DOI (see DESIGN.md).
type DefaultMiniReviewRunner struct {
	Completion llm.Client
	PaperTools papertools.Deps
}

func (r DefaultMiniReviewRunner) Run(ctx context.Context, base LiteratureBase, quality review.Quality) (MiniReviewResult, error) {
	seen := map[string]papertools.PaperResult{}
	for _, q := range base.SearchQueries {
		results, err := papertools.SearchPapers(ctx, r.PaperTools, q, papertools.DefaultSearchLimit)
		if err != nil {
			return MiniReviewResult{}, fmt.Errorf("loop2: mini-review search %q: %w", q, err)
		}
		for _, res := range results {
			seen[res.BibKey] = res
		}
	}

	var evidence strings.Builder
	doiMap := map[string]string{}
	for key, res := range seen {
		fmt.Fprintf(&evidence, "[@%s] %s: %s\n\n", key, res.Title, res.Snippet)
		doiMap[key] = key
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Write a short literature-review section on %q using only the evidence below, citing with [@KEY].\n\n", base.Name)
	prompt.WriteString(evidence.String())

	var result struct {
		Review string `json:"review"`
	}
	err := llm.GetStructuredOutput(ctx, r.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, prompt.String(), &result,
		llm.StructuredOptions{})
	if err != nil {
		return MiniReviewResult{}, err
	}
	return MiniReviewResult{Text: result.Review, DOIToBibKey: doiMap}, nil
}
