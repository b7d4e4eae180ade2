// Package flow provides a small composable pipeline engine: typed nodes
// that can be sequenced, branched, looped, batched, or fanned out in
// parallel over a shared context. It is the engine the document-ingestion
// graph (package ingest) and the review-loop subgraphs (package review)
// are built on.
package flow

import (
	"context"
	"fmt"
)

// Node is a single named step that transforms a value of type S.
//
// Every stage in the document-processing graph and in the review loops is
// a Node[S] over its own state type, so a node can be tested in isolation
// by calling Run directly with a context and a state value.
type Node[S any] interface {
	Name() string
	Run(ctx context.Context, state S) (S, error)
}

// Func adapts a plain function into a Node.
type Func[S any] struct {
	name string
	fn   func(context.Context, S) (S, error)
}

// NewFunc builds a Node from a name and a processing function.
func NewFunc[S any](name string, fn func(context.Context, S) (S, error)) *Func[S] {
	return &Func[S]{name: name, fn: fn}
}

func (f *Func[S]) Name() string { return f.name }

func (f *Func[S]) Run(ctx context.Context, state S) (S, error) {
	if err := ctx.Err(); err != nil {
		var zero S
		return zero, err
	}
	out, err := f.fn(ctx, state)
	if err != nil {
		var zero S
		return zero, fmt.Errorf("flow: node %q: %w", f.name, err)
	}
	return out, nil
}

// Graph is an ordered sequence of nodes executed against the same state
// type, each one's output feeding the next one's input. It is the
// top-level container for a document-processing or review-loop pipeline.
type Graph[S any] struct {
	nodes []Node[S]
}

// NewGraph creates an empty Graph.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{}
}

// Then appends a node to the end of the graph and returns the graph for
// chaining.
func (g *Graph[S]) Then(n Node[S]) *Graph[S] {
	g.nodes = append(g.nodes, n)
	return g
}

// Nodes returns the configured nodes in execution order.
func (g *Graph[S]) Nodes() []Node[S] { return g.nodes }

// Run executes every node in order, stopping at the first error. The
// returned state is the output of the last node that ran.
func (g *Graph[S]) Run(ctx context.Context, state S) (S, error) {
	for _, n := range g.nodes {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		var err error
		state, err = n.Run(ctx, state)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

func (g *Graph[S]) Name() string { return "graph" }
