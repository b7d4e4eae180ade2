package flow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FanOut runs fn over every item in items with at most bound goroutines
// in flight at once, preserving input order in the returned slice. A
// bound <= 0 means unbounded.
//
// This is the primitive behind every named fan-out bound in the system:
// document batch ingestion (5), chapter summarization (4), paper summary
// extraction (3, non-batch path), Loop 4 section editing (5), citation
// post-processing (3), and bib-key verification (10). The first error
// cancels the derived context, and FanOut returns that first error after
// every goroutine has observed the cancellation — partial results are
// never substituted for a failure.
func FanOut[T any, R any](ctx context.Context, bound int, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	group, groupCtx := errgroup.WithContext(ctx)
	if bound > 0 {
		group.SetLimit(bound)
	}
	for i, item := range items {
		group.Go(func() error {
			out, err := fn(groupCtx, item)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FanOutTolerant is FanOut but never aborts siblings on a single item's
// error; it returns a result and an error per item, positionally aligned
// with items, so a caller (e.g. process_documents_batch) can turn a
// failure into a per-item terminal state instead of cancelling the batch.
func FanOutTolerant[T any, R any](ctx context.Context, bound int, items []T, fn func(context.Context, T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	group, groupCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	if bound > 0 {
		group.SetLimit(bound)
	}
	for i, item := range items {
		group.Go(func() error {
			out, err := fn(groupCtx, item)
			results[i] = out
			errs[i] = err
			return nil
		})
	}
	_ = group.Wait()
	return results, errs
}

// Parallel fans a single state out to a fixed set of independent branches
// (e.g. ingest's summary_agent + metadata_agent) and merges their outputs
// with merge. Every branch sees the same input state; a failure in any
// branch cancels the rest and is returned.
type Parallel[S any] struct {
	name     string
	branches []Node[S]
	merge    func(ctx context.Context, original S, outputs []S) (S, error)
}

// NewParallel builds a Parallel node.
func NewParallel[S any](name string, merge func(context.Context, S, []S) (S, error), branches ...Node[S]) *Parallel[S] {
	return &Parallel[S]{name: name, branches: branches, merge: merge}
}

func (p *Parallel[S]) Name() string { return p.name }

func (p *Parallel[S]) Run(ctx context.Context, state S) (S, error) {
	outputs, err := FanOut(ctx, 0, p.branches, func(ctx context.Context, n Node[S]) (S, error) {
		return n.Run(ctx, state)
	})
	if err != nil {
		var zero S
		return zero, err
	}
	return p.merge(ctx, state, outputs)
}
