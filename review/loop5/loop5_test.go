package loop5

import (
	"context"
	"errors"
	"testing"

	"github.com/DaveCBeck/thala-sub002/citation"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/papertools"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/stretchr/testify/require"
)

type fakeLLMClient struct {
	respond func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (f *fakeLLMClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return f.respond(req)
}

var errAlways = errors.New("fake llm: always fails")

func newTestPaperTools() papertools.Deps {
	return papertools.Deps{}
}

type fakeBibSystem struct {
	exists map[string]bool
}

func (f *fakeBibSystem) Add(ctx context.Context, item *store.BibItem) (string, error) { return "", nil }
func (f *fakeBibSystem) Get(ctx context.Context, key string) (*store.BibItem, error)  { return nil, nil }
func (f *fakeBibSystem) Update(ctx context.Context, key string, updates *store.BibItem) error {
	return nil
}
func (f *fakeBibSystem) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeBibSystem) Exists(ctx context.Context, key string) (bool, error) {
	return f.exists[key], nil
}
func (f *fakeBibSystem) Search(ctx context.Context, conditions []store.BibSearchCondition, limit int) ([]*store.BibItem, error) {
	return nil, nil
}
func (f *fakeBibSystem) Ping(ctx context.Context) error { return nil }

func TestApplyValidEditsSkipsAmbiguousFind(t *testing.T) {
	document := "alpha beta alpha"
	edits := []citation.Edit{
		{Find: "alpha", Replace: "gamma", EditType: "clarity"}, // occurs twice: invalid
		{Find: "beta", Replace: "delta", EditType: "clarity"},  // occurs once: valid
	}
	out := applyValidEdits(document, edits)
	require.Equal(t, "alpha delta alpha", out)
}

func TestRepairCitationsStripsWhenProposalFails(t *testing.T) {
	bib := &fakeBibSystem{exists: map[string]bool{}}
	failing := &fakeLLMClient{respond: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errAlways
	}}
	deps := Deps{Bib: bib, Completion: failing, PaperTools: newTestPaperTools()}

	document := "A claim [@BadKey01] needs support."
	out, err := repairCitations(context.Background(), deps, document, map[string]bool{})
	require.NoError(t, err)
	require.NotContains(t, out, "[@BadKey01]")
}

func TestRepairCitationsLeavesCorpusKeysAlone(t *testing.T) {
	bib := &fakeBibSystem{exists: map[string]bool{}}
	deps := Deps{Bib: bib}
	document := "A claim [@GoodKey1] is fine."

	out, err := repairCitations(context.Background(), deps, document, map[string]bool{"GoodKey1": true})
	require.NoError(t, err)
	require.Equal(t, document, out)
}

func TestFinalizeStripsSurvivingTodoMarkers(t *testing.T) {
	document := "Text. <!-- TODO: check this --> More text."
	out := Finalize(document, nil)
	require.Equal(t, "Text.  More text.", out)
	require.NotContains(t, out, "TODO")
}

func TestVerifyTodosWithNoMarkersIsNoop(t *testing.T) {
	document := "No markers here."
	out, human, err := VerifyTodos(context.Background(), Deps{}, document)
	require.NoError(t, err)
	require.Equal(t, document, out)
	require.Empty(t, human)
}
