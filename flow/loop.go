package flow

import (
	"context"
	"fmt"
)

// Terminator decides, after an iteration, whether a Loop should stop.
// iteration is 0-based and counts completed iterations.
type Terminator[S any] func(ctx context.Context, iteration int, state S) (bool, error)

// Loop repeatedly runs a node against its own prior output until either
// Terminator reports true or MaxIterations is reached (0-based), matching
// the bounded-iteration contract every review loop in package review
// relies on (Loop 1's research budget, Loop 3's `max_iterations + 1`,
// Loop 4's holistic-review budget, and so on).
type Loop[S any] struct {
	name          string
	node          Node[S]
	maxIterations int
	terminate     Terminator[S]
	onIteration   func(iteration int, state S)
}

// NewLoop builds a Loop. maxIterations <= 0 means "no hard cap" — the
// loop then relies entirely on terminate, and a nil terminate runs the
// node exactly once.
func NewLoop[S any](name string, node Node[S], maxIterations int, terminate Terminator[S]) *Loop[S] {
	return &Loop[S]{name: name, node: node, maxIterations: maxIterations, terminate: terminate}
}

// OnIteration installs an observer called after each iteration, used by
// callers that need to persist a MultiLoopProgress-style checkpoint
// without coupling the loop body to a particular orchestrator.
func (l *Loop[S]) OnIteration(fn func(iteration int, state S)) *Loop[S] {
	l.onIteration = fn
	return l
}

func (l *Loop[S]) Name() string { return l.name }

func (l *Loop[S]) Run(ctx context.Context, state S) (S, error) {
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		var err error
		state, err = l.node.Run(ctx, state)
		if err != nil {
			return state, fmt.Errorf("flow: loop %q: iteration %d: %w", l.name, iteration, err)
		}
		if l.onIteration != nil {
			l.onIteration(iteration, state)
		}
		stop, err := l.shouldStop(ctx, iteration, state)
		if err != nil {
			return state, fmt.Errorf("flow: loop %q: terminator: %w", l.name, err)
		}
		if stop {
			return state, nil
		}
	}
}

func (l *Loop[S]) shouldStop(ctx context.Context, iteration int, state S) (bool, error) {
	atCap := l.maxIterations > 0 && iteration >= l.maxIterations-1
	switch {
	case atCap:
		return true, nil
	case l.terminate == nil:
		return l.maxIterations <= 0, nil
	default:
		return l.terminate(ctx, iteration, state)
	}
}
