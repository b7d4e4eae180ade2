package loop2

import (
	"context"
	"encoding/json"
	"errors"
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

var errAlways = errors.New("fake llm: always fails")

type fakeMiniReviewRunner struct {
	result MiniReviewResult
	err    error
	calls  int
}

func (f *fakeMiniReviewRunner) Run(ctx context.Context, base LiteratureBase, quality review.Quality) (MiniReviewResult, error) {
	f.calls++
	return f.result, f.err
}

func TestRunTerminatesOnAnalyzerComplete(t *testing.T) {
	analyzer := &fakeLLMClient{respond: sequence(LiteratureBaseDecision{Action: ActionComplete})}
	runner := &fakeMiniReviewRunner{}
	deps := Deps{Completion: analyzer, MiniReview: runner}
	shared := review.Shared{Quality: review.Quality{MaxStages: 3}}

	_, result, err := Run(context.Background(), deps, shared)
	require.NoError(t, err)
	require.Equal(t, "analyzer_complete", result.TerminationReason)
	require.Equal(t, 0, runner.calls)
}

func TestRunExpandsBaseAndIntegrates(t *testing.T) {
	base := LiteratureBase{Name: "ecology", SearchQueries: []string{"coral bleaching"}, IntegrationStrategy: "append"}
	analyzer := &fakeLLMClient{respond: sequence(
		LiteratureBaseDecision{Action: ActionExpandBase, Base: &base},
		struct {
			Review string `json:"review"`
		}{Review: "updated review text"},
		LiteratureBaseDecision{Action: ActionComplete},
	)}
	runner := &fakeMiniReviewRunner{result: MiniReviewResult{
		Text:        "mini review on coral bleaching",
		DOIToBibKey: map[string]string{"10.1/x": "AbcD1234"},
	}}
	deps := Deps{Completion: analyzer, MiniReview: runner}
	shared := review.Shared{Quality: review.Quality{MaxStages: 3}, CurrentReview: "base review"}

	out, result, err := Run(context.Background(), deps, shared)
	require.NoError(t, err)
	require.Equal(t, "analyzer_complete", result.TerminationReason)
	require.Equal(t, 1, runner.calls)
	require.Equal(t, []string{"ecology"}, out.ExploredBases)
	require.Equal(t, "updated review text", out.CurrentReview)
	require.True(t, out.ZoteroKeys["AbcD1234"])
}

func TestRunTerminatesOnPersistentFailure(t *testing.T) {
	analyzer := &fakeLLMClient{respond: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errAlways
	}}
	deps := Deps{Completion: analyzer, MiniReview: &fakeMiniReviewRunner{}}
	shared := review.Shared{Quality: review.Quality{MaxStages: 5}}

	out, result, err := Run(context.Background(), deps, shared)
	require.NoError(t, err)
	require.Equal(t, "persistent_failure", result.TerminationReason)
	require.Len(t, out.Errors, 2)
}

func TestReducedStagesFloorsAtOne(t *testing.T) {
	require.Equal(t, 1, reducedStages(1))
	require.Equal(t, 1, reducedStages(2))
	require.Equal(t, 2, reducedStages(5))
}
