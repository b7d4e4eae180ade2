package loop1

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/papertools"
	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeLLMClient struct {
	respond func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (f *fakeLLMClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return f.respond(req)
}

// sequence returns a responder that serves one decision per call from
// decisions in order, repeating the last one once exhausted.
func sequence(decisions ...SupervisorDecision) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := 0
	return func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		d := decisions[i]
		if i < len(decisions)-1 {
			i++
		}
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{Name: "submit_result", Arguments: string(raw)}},
		}, nil
	}
}

var errAlways = errors.New("fake llm: always fails")

type fakeTextIndex struct{ byIndex map[string][]*record.Record }

func newFakeTextIndex() *fakeTextIndex { return &fakeTextIndex{byIndex: map[string][]*record.Record{}} }

func (f *fakeTextIndex) Add(ctx context.Context, index string, r *record.Record) error {
	f.byIndex[index] = append(f.byIndex[index], r)
	return nil
}
func (f *fakeTextIndex) Get(ctx context.Context, index string, id uuid.UUID) (*record.Record, error) {
	return nil, nil
}
func (f *fakeTextIndex) Update(ctx context.Context, index string, id uuid.UUID, updates map[string]any) error {
	return nil
}
func (f *fakeTextIndex) Delete(ctx context.Context, index string, id uuid.UUID) error { return nil }
func (f *fakeTextIndex) Search(ctx context.Context, index string, query store.Query, size int) ([]*record.Record, error) {
	return nil, nil
}
func (f *fakeTextIndex) Ping(ctx context.Context) error { return nil }

type fakeVectorIndex struct{ points []*record.Record }

func (f *fakeVectorIndex) Upsert(ctx context.Context, r *record.Record) error {
	f.points = append(f.points, r)
	return nil
}
func (f *fakeVectorIndex) Delete(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeVectorIndex) KNNSearch(ctx context.Context, embedding []float32, topK int, minScore float32, filter map[string]any) ([]*record.Record, error) {
	return nil, nil
}
func (f *fakeVectorIndex) Ping(ctx context.Context) error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
func (fakeEmbedder) EmbedLong(ctx context.Context, text string, maxChunkRunes int) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }

func newTestPaperTools() papertools.Deps {
	text := newFakeTextIndex()
	vector := &fakeVectorIndex{}
	forgotten := store.NewForgottenStore(text)
	main := store.NewMainStore(text, vector, forgotten)
	return papertools.Deps{Main: main, Embedder: fakeEmbedder{}}
}

func TestRunTerminatesOnResearchComplete(t *testing.T) {
	supervisor := &fakeLLMClient{respond: sequence(SupervisorDecision{Action: ActionComplete})}
	deps := Deps{Completion: supervisor, PaperTools: newTestPaperTools()}
	shared := review.Shared{Quality: review.Quality{MaxStages: 3}}

	_, result, err := Run(context.Background(), deps, shared, []string{"q1", "q2"})
	require.NoError(t, err)
	require.Equal(t, "research_complete", result.TerminationReason)
	require.Equal(t, 1, result.IterationsRun)
}

func TestRunExhaustsIterations(t *testing.T) {
	supervisor := &fakeLLMClient{respond: sequence(SupervisorDecision{
		Action:  ActionRefineDraft,
		Updates: "incorporated a finding",
	})}
	deps := Deps{Completion: supervisor, PaperTools: newTestPaperTools()}
	shared := review.Shared{Quality: review.Quality{MaxStages: 2}, CurrentReview: "initial draft"}

	_, result, err := Run(context.Background(), deps, shared, nil)
	require.NoError(t, err)
	require.Equal(t, "iterations_exhausted", result.TerminationReason)
	require.Equal(t, 2, result.IterationsRun)
}

func TestRunTerminatesOnPersistentFailure(t *testing.T) {
	failing := &fakeLLMClient{respond: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errAlways
	}}
	deps := Deps{Completion: failing, PaperTools: newTestPaperTools()}
	shared := review.Shared{Quality: review.Quality{MaxStages: 5}}

	out, result, err := Run(context.Background(), deps, shared, []string{"q1"})
	require.NoError(t, err)
	require.Equal(t, "persistent_failure", result.TerminationReason)
	require.Len(t, out.Errors, 2)
}

func TestApplyRefinementAppendsUpdates(t *testing.T) {
	require.Equal(t, "base\n\nmore", applyRefinement("base", "more"))
	require.Equal(t, "base", applyRefinement("base", ""))
}

func TestCompletenessScoreWeightsCoverageProgressAndGaps(t *testing.T) {
	full := completenessScore(2, 2, 3, 3, 0)
	require.InDelta(t, 1.0, full, 1e-9)

	none := completenessScore(0, 2, 1, 3, 2)
	require.Less(t, none, full)
}
