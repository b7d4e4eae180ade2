package flow

import "context"

// Batch is a map-reduce node: it splits a state into segments, maps each
// segment independently (bounded concurrency), and reduces the mapped
// segments back into the outer state. It is the shape of the chapter
// map-reduce subgraph (§4.3): map phase is unordered, reduce preserves
// declared chapter order because Map returns results aligned with the
// segment order FanOut was given.
type Batch[S any, T any, R any] struct {
	name    string
	bound   int
	split   func(context.Context, S) ([]T, error)
	mapOne  func(context.Context, T) (R, error)
	reduce  func(context.Context, S, []R) (S, error)
}

// NewBatch builds a Batch node. bound <= 0 means unbounded concurrency in
// the map phase.
func NewBatch[S any, T any, R any](
	name string,
	bound int,
	split func(context.Context, S) ([]T, error),
	mapOne func(context.Context, T) (R, error),
	reduce func(context.Context, S, []R) (S, error),
) *Batch[S, T, R] {
	return &Batch[S, T, R]{name: name, bound: bound, split: split, mapOne: mapOne, reduce: reduce}
}

func (b *Batch[S, T, R]) Name() string { return b.name }

func (b *Batch[S, T, R]) Run(ctx context.Context, state S) (S, error) {
	segments, err := b.split(ctx, state)
	if err != nil {
		var zero S
		return zero, err
	}
	if len(segments) == 0 {
		return state, nil
	}
	mapped, err := FanOut(ctx, b.bound, segments, b.mapOne)
	if err != nil {
		var zero S
		return zero, err
	}
	return b.reduce(ctx, state, mapped)
}
