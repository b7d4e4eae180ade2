// Package review implements the five staged review-improvement loops
// (plus the Loop 4.5 cohesion gate) that operate over a running review
// text, per spec.md §4.4. Each loop lives in its own subpackage
// (loop1..loop5); this package holds the state and policy every loop
// shares.
package review

import (
	"github.com/DaveCBeck/thala-sub002/xerrors"
)

// Shared is the state every loop reads and, where its own stage writes
// to it, mutates: the running review text, the corpus references
// accumulated across loops, and the running error log. Cross-loop state
// is passed by value at loop boundaries; PaperSummaries and ZoteroKeys
// are shared corpora held by reference. Loop 2 adds the bib_keys of the
// papers its mini-reviews ingest to ZoteroKeys; every other loop only
// reads these two maps.
type Shared struct {
	CurrentReview string
	Quality       Quality
	Errors        []xerrors.LoopFailure

	// PaperSummaries maps a bib_key to a short summary of that paper, the
	// corpus loop 4 reads from when budgeting per-section context. No loop
	// adds to it; it holds what the caller supplies.
	PaperSummaries map[string]string
	// ZoteroKeys is the set of bib_keys already known to exist in the
	// bibliographic system, short-circuiting re-verification.
	ZoteroKeys map[string]bool
	// ExploredBases is the running list of literature-base names loop 2
	// has already expanded, appended to as each completes.
	ExploredBases []string
}

// Quality carries the review-run's quality preset. MaxStages derives
// each loop's iteration budget; loops with their own budget adjustment
// (loop 3's "+1", loop 4's lower bound of 2) apply it on top of
// MaxIterations.
type Quality struct {
	MaxStages int
}

// DefaultMaxStages is used when a Quality value leaves MaxStages unset,
// so callers need not set it explicitly. Loop 2's mini-reviews derive
// their own reduced budget from the parent's (see loop2.reducedStages).
const DefaultMaxStages = 3

// MaxIterations returns the base iteration budget this quality preset
// allows, before any loop-specific adjustment.
func (q Quality) MaxIterations() int {
	if q.MaxStages <= 0 {
		return DefaultMaxStages
	}
	return q.MaxStages
}

// FailureTracker enforces spec.md §4.4's "two consecutive failures"
// early-termination rule, shared by every loop that needs it (loop 1's
// "persistent failure", loop 2's "two consecutive failures").
type FailureTracker struct {
	consecutive int
}

// ConsecutiveFailureBound is the number of consecutive failures a loop
// tolerates before finalizing early, per spec.md §7's LoopFailure
// "tolerated up to a per-loop consecutive-failure bound (2)".
const ConsecutiveFailureBound = 2

// RecordFailure increments the streak and reports whether the loop
// should terminate now.
func (t *FailureTracker) RecordFailure() bool {
	t.consecutive++
	return t.consecutive >= ConsecutiveFailureBound
}

// RecordSuccess resets the streak.
func (t *FailureTracker) RecordSuccess() {
	t.consecutive = 0
}
