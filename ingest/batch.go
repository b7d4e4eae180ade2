package ingest

import (
	"context"
	"time"

	"github.com/DaveCBeck/thala-sub002/flow"
	"go.uber.org/zap"
)

// DocumentBatchFanOutBound is the concurrency bound for
// process_documents_batch, per spec.md §4.3.
const DocumentBatchFanOutBound = 5

// BatchResult pairs a document's final state with any error that ended
// its run early; a failed document never cancels its siblings.
type BatchResult struct {
	State *DocumentState
	Err   error
}

// ProcessDocumentsBatch runs the document-processing graph over every
// source concurrently, bounded by DocumentBatchFanOutBound, turning a
// single document's failure into a failed terminal state for that
// document rather than aborting the batch, matching spec.md §4.3's
// process_documents_batch contract.
func ProcessDocumentsBatch(ctx context.Context, deps Deps, logger *zap.Logger, sources []string) []BatchResult {
	graph := BuildGraph(deps, logger)

	states, errs := flow.FanOutTolerant(ctx, DocumentBatchFanOutBound, sources, func(ctx context.Context, source string) (*DocumentState, error) {
		state := &DocumentState{Source: source, StartedAt: time.Now(), Status: "pending"}
		// graph.Run returns a zero state on failure (Func.Run discards
		// its input on error), so report failures against the original
		// pointer: every node that ran before the failing one already
		// mutated it in place.
		out, err := graph.Run(ctx, state)
		if err != nil {
			state.Status = "failed"
			state.AddError(err)
			return state, err
		}
		return out, nil
	})

	results := make([]BatchResult, len(sources))
	for i := range sources {
		results[i] = BatchResult{State: states[i], Err: errs[i]}
		if errs[i] != nil {
			logger.Warn("document ingestion failed",
				zap.String("source", sources[i]),
				zap.Error(errs[i]),
			)
		}
	}
	return results
}
