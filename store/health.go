package store

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pinger is the minimal liveness contract every backend in this package
// satisfies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health is the aggregate liveness snapshot across every wired backend,
// matching spec.md §4.1's "health() aggregates non-blocking liveness
// pings from every backend".
type Health struct {
	MainStore       error
	CoherenceStore  error
	VectorStore     error
	BibSystem       error
	HistoryStore    error
	ForgottenStore  error
}

// Healthy reports whether every backend answered without error.
func (h Health) Healthy() bool {
	return h.MainStore == nil && h.CoherenceStore == nil && h.VectorStore == nil &&
		h.BibSystem == nil && h.HistoryStore == nil && h.ForgottenStore == nil
}

// CheckHealth pings every backend concurrently, so one slow service does
// not delay the others' pings; a failed ping is recorded on the result
// rather than aborting the whole check. No per-backend deadline is
// applied here: the check returns once every ping has returned.
func CheckHealth(ctx context.Context, main *MainStore, coherence *CoherenceStore, vector *VectorStore, bib BibSystem, history *HistoryStore, forgotten *ForgottenStore) Health {
	var health Health
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	ping := func(target *error, p Pinger) {
		g.Go(func() error {
			*target = p.Ping(gctx)
			return nil
		})
	}

	ping(&health.MainStore, main)
	ping(&health.CoherenceStore, coherence)
	ping(&health.VectorStore, vector)
	ping(&health.BibSystem, bib)
	ping(&health.HistoryStore, history)
	ping(&health.ForgottenStore, forgotten)

	_ = g.Wait()
	return health
}
