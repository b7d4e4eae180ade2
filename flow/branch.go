package flow

import (
	"context"
	"fmt"
)

// Router decides which named branch to take given the state after a
// node has run. It is how ingest's `is_markdown?` and
// `needs_tenth_summary?` decisions, and review's loop-transition
// decisions, are expressed.
type Router[S any] func(ctx context.Context, state S) (string, error)

// Branch runs a node, then routes its output to exactly one of a set of
// named successor nodes. A route with no matching successor is an error:
// the router is expected to be exhaustive over its own set of routes.
type Branch[S any] struct {
	name     string
	decide   Router[S]
	branches map[string]Node[S]
}

// NewBranch builds a Branch that uses decide to pick among branches.
func NewBranch[S any](name string, decide Router[S], branches map[string]Node[S]) *Branch[S] {
	return &Branch[S]{name: name, decide: decide, branches: branches}
}

func (b *Branch[S]) Name() string { return b.name }

func (b *Branch[S]) Run(ctx context.Context, state S) (S, error) {
	route, err := b.decide(ctx, state)
	if err != nil {
		var zero S
		return zero, fmt.Errorf("flow: branch %q: route selection: %w", b.name, err)
	}
	node, ok := b.branches[route]
	if !ok {
		var zero S
		return zero, fmt.Errorf("flow: branch %q: no such route %q", b.name, route)
	}
	return node.Run(ctx, state)
}
