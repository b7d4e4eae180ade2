// Package orchestrator sequences the five review-improvement loops (plus
// the Loop 4.5 cohesion gate) and records their effect, per spec.md
// §4.4.7: L1 → L2 → L3 → L4 → L4.5, with a bounded L4.5→L3 re-entry,
// then L5 → finalize. Grounded on ingest/graph.go's node-sequencing
// shape, generalized from a fixed DAG to a loop-selector-gated pipeline.
package orchestrator

import (
	"context"

	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/DaveCBeck/thala-sub002/review/loop1"
	"github.com/DaveCBeck/thala-sub002/review/loop2"
	"github.com/DaveCBeck/thala-sub002/review/loop3"
	"github.com/DaveCBeck/thala-sub002/review/loop4"
	"github.com/DaveCBeck/thala-sub002/review/loop5"
	"github.com/pmezard/go-difflib/difflib"
)

// LoopSelector names the highest loop a run should reach, per spec.md
// §4.4.7's "loops ∈ {none, one, two, three, four, all}".
type LoopSelector string

const (
	LoopNone  LoopSelector = "none"
	LoopOne   LoopSelector = "one"
	LoopTwo   LoopSelector = "two"
	LoopThree LoopSelector = "three"
	LoopFour  LoopSelector = "four"
	LoopAll   LoopSelector = "all" // includes Loop 4.5 and Loop 5
)

var ordinals = map[LoopSelector]int{
	LoopNone: 0, LoopOne: 1, LoopTwo: 2, LoopThree: 3, LoopFour: 4, LoopAll: 5,
}

// MaxLoop3Repeats bounds how many times Loop 4.5 can send the run back
// to Loop 3, per spec.md §4.4.7's "bounded loop3_repeat_count" — the
// exact bound is left unspecified in source; 2 matches the repo's other
// consecutive-failure/repeat bounds (see DESIGN.md).
const MaxLoop3Repeats = 2

// DocumentRevision records one loop transition's effect on the review
// text, only when the text actually changed.
type DocumentRevision struct {
	LoopNumber float64 // 4.5 is a legal value, hence float64 not int
	Iteration  int
	Before     string
	After      string
	Diff       string
}

// MultiLoopProgress tracks each loop's iteration count plus the bounded
// Loop-3 re-entry counter.
type MultiLoopProgress struct {
	LoopIterations   map[float64]int
	Loop3RepeatCount int
}

// Deps bundles every loop's own Deps plus the bibliographic/citation
// post-processing backends the orchestrator itself doesn't call
// directly but routes through to each loop.
type Deps struct {
	Loop1 loop1.Deps
	Loop2 loop2.Deps
	Loop3 loop3.Deps
	Loop4 loop4.Deps
	Loop5 loop5.Deps
}

// Result is orchestrator.Run's outcome.
type Result struct {
	Revisions        []DocumentRevision
	Progress         MultiLoopProgress
	CompletionReason string
}

// Run sequences the loops up to the highest one loops selects,
// recording a DocumentRevision at every transition that changed the
// text.
func Run(ctx context.Context, deps Deps, shared review.Shared, loops LoopSelector, initialQuestions []string) (review.Shared, Result, error) {
	progress := MultiLoopProgress{LoopIterations: map[float64]int{}}
	var revisions []DocumentRevision
	highest := ordinals[loops]

	record := func(loopNumber float64, iteration int, before, after string) {
		if before == after {
			return
		}
		revisions = append(revisions, DocumentRevision{
			LoopNumber: loopNumber,
			Iteration:  iteration,
			Before:     before,
			After:      after,
			Diff:       unifiedDiff(before, after),
		})
	}

	if highest >= 1 {
		before := shared.CurrentReview
		var result loop1.Result
		var err error
		shared, result, err = loop1.Run(ctx, deps.Loop1, shared, initialQuestions)
		if err != nil {
			return shared, Result{Revisions: revisions, Progress: progress}, err
		}
		progress.LoopIterations[1] = result.IterationsRun
		record(1, result.IterationsRun, before, shared.CurrentReview)
	}

	if highest >= 2 {
		before := shared.CurrentReview
		var result loop2.Result
		var err error
		shared, result, err = loop2.Run(ctx, deps.Loop2, shared)
		if err != nil {
			return shared, Result{Revisions: revisions, Progress: progress}, err
		}
		progress.LoopIterations[2] = result.IterationsRun
		record(2, result.IterationsRun, before, shared.CurrentReview)
	}

	if highest >= 3 {
		shared = runLoop3(ctx, deps, shared, &revisions, &progress, record)
	}

	if highest >= 4 {
		before := shared.CurrentReview
		var result loop4.Result
		var err error
		shared, result, err = loop4.Run(ctx, deps.Loop4, shared)
		if err != nil {
			return shared, Result{Revisions: revisions, Progress: progress}, err
		}
		progress.LoopIterations[4] = result.IterationsRun
		record(4, result.IterationsRun, before, shared.CurrentReview)
	}

	if loops == LoopAll {
		for {
			cohesion, err := loop4.CheckCohesion(ctx, deps.Loop4, shared.CurrentReview)
			if err != nil {
				return shared, Result{Revisions: revisions, Progress: progress}, err
			}
			if !cohesion.NeedsRestructuring || progress.Loop3RepeatCount >= MaxLoop3Repeats {
				break
			}
			progress.Loop3RepeatCount++

			shared = runLoop3(ctx, deps, shared, &revisions, &progress, record)

			before := shared.CurrentReview
			var result loop4.Result
			var err error
			shared, result, err = loop4.Run(ctx, deps.Loop4, shared)
			if err != nil {
				return shared, Result{Revisions: revisions, Progress: progress}, err
			}
			progress.LoopIterations[4] += result.IterationsRun
			record(4, result.IterationsRun, before, shared.CurrentReview)
		}

		before := shared.CurrentReview
		var result loop5.Result
		var err error
		shared, result, err = loop5.Run(ctx, deps.Loop5, shared)
		if err != nil {
			return shared, Result{Revisions: revisions, Progress: progress}, err
		}
		_ = result
		progress.LoopIterations[5] = 1
		record(5, 1, before, shared.CurrentReview)
	}

	return shared, Result{Revisions: revisions, Progress: progress, CompletionReason: "completed"}, nil
}

func runLoop3(ctx context.Context, deps Deps, shared review.Shared, revisions *[]DocumentRevision, progress *MultiLoopProgress,
	record func(loopNumber float64, iteration int, before, after string)) review.Shared {
	before := shared.CurrentReview
	shared, result, err := loop3.Run(ctx, deps.Loop3, shared)
	if err != nil {
		return shared
	}
	progress.LoopIterations[3] += result.IterationsRun
	record(3, result.IterationsRun, before, shared.CurrentReview)
	return shared
}

// unifiedDiff renders a line-based unified diff between before and
// after, grounded on citation.SimilarityRatio's use of go-difflib, the
// only diff library the corpus wires in.
func unifiedDiff(before, after string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}
