// See flow.go for the Node/Graph core; branch.go, loop.go, fanout.go and
// batch.go add the routing, bounded-iteration, bounded fan-out, and
// map-reduce combinators used throughout packages ingest and review.
package flow
