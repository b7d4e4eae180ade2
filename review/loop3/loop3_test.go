package loop3

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/stretchr/testify/require"
)

type fakeLLMClient struct {
	respond func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (f *fakeLLMClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return f.respond(req)
}

func sequence(values ...any) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := 0
	return func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{Name: "submit_result", Arguments: string(raw)}},
		}, nil
	}
}

func TestRunFinalizesWhenNoRestructuringNeeded(t *testing.T) {
	client := &fakeLLMClient{respond: sequence(PhaseAResult{NeedsRestructuring: false})}
	deps := Deps{Completion: client}
	shared := review.Shared{Quality: review.Quality{MaxStages: 2}, CurrentReview: "P1 text\n\nP2 text"}

	_, result, err := Run(context.Background(), deps, shared)
	require.NoError(t, err)
	require.Equal(t, "no_restructuring_needed", result.TerminationReason)
	require.Equal(t, 1, result.IterationsRun)
}

func TestRunRewritesAndFinalizesOnCoherenceGate(t *testing.T) {
	phaseA := PhaseAResult{
		NeedsRestructuring: true,
		Issues: []StructuralIssue{
			{IssueID: "i1", Type: IssueMisplacedContent, AffectedParagraphs: []int{2}, SuggestedResolution: ResolutionRewrite},
		},
	}
	rewritten := struct {
		Rewritten string `json:"rewritten"`
	}{Rewritten: "fixed paragraph two"}
	verification := ArchitectureVerificationResult{CoherenceScore: 0.9}

	client := &fakeLLMClient{respond: sequence(phaseA, rewritten, verification)}
	deps := Deps{Completion: client}
	shared := review.Shared{Quality: review.Quality{MaxStages: 2}, CurrentReview: "P1 text\n\nP2 text\n\nP3 text"}

	out, result, err := Run(context.Background(), deps, shared)
	require.NoError(t, err)
	require.Equal(t, "coherence_reached", result.TerminationReason)
	require.Contains(t, out.CurrentReview, "fixed paragraph two")
}

func TestApplyRewritesSkipsPureMoveResolution(t *testing.T) {
	deps := Deps{Completion: &fakeLLMClient{respond: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		t.Fatal("move-only issues must not call the rewriter")
		return nil, nil
	}}}
	paragraphs := []string{"P1", "P2", "P3"}
	issues := []StructuralIssue{
		{IssueID: "i1", AffectedParagraphs: []int{2}, SuggestedResolution: ResolutionMove},
	}

	out, err := applyRewrites(context.Background(), deps, paragraphs, issues)
	require.NoError(t, err)
	require.Equal(t, "P1\n\nP2\n\nP3", out)
}

func TestParagraphRangeClampsToBounds(t *testing.T) {
	start, end := paragraphRange([]int{5, 7, 9}, 8)
	require.Equal(t, 4, start)
	require.Equal(t, 7, end)
}

func TestMonotonicityHoldsRejectsIncreasingScoreWithMoreIssues(t *testing.T) {
	prev := ArchitectureVerificationResult{CoherenceScore: 0.5, IssuesRemaining: []string{"a"}}
	curr := ArchitectureVerificationResult{CoherenceScore: 0.7, IssuesRemaining: []string{"a", "b"}}
	require.False(t, MonotonicityHolds(prev, curr))

	curr.IssuesRemaining = []string{"a"}
	require.True(t, MonotonicityHolds(prev, curr))
}
