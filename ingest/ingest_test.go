package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTextIndex is a minimal in-memory stand-in for store.TextIndex,
// mirroring the shape store_test.go uses for the same purpose.
type fakeTextIndex struct {
	mu   sync.Mutex
	data map[string]map[uuid.UUID]*record.Record
}

func newFakeTextIndex() *fakeTextIndex {
	return &fakeTextIndex{data: map[string]map[uuid.UUID]*record.Record{}}
}

func (f *fakeTextIndex) Add(_ context.Context, index string, r *record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[index] == nil {
		f.data[index] = map[uuid.UUID]*record.Record{}
	}
	f.data[index][r.ID] = r.Clone()
	return nil
}

func (f *fakeTextIndex) Get(_ context.Context, index string, id uuid.UUID) (*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.data[index][id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (f *fakeTextIndex) Update(_ context.Context, index string, id uuid.UUID, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.data[index][id]
	if !ok {
		return fmt.Errorf("fakeTextIndex: no record %s in %s", id, index)
	}
	for k, v := range updates {
		switch k {
		case "content":
			r.Content = v.(string)
		case "embedding":
			r.Embedding = v.([]float32)
		default:
			r.Metadata[k] = v
		}
	}
	r.Touch(time.Now())
	return nil
}

func (f *fakeTextIndex) Delete(_ context.Context, index string, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data[index], id)
	return nil
}

func (f *fakeTextIndex) Search(_ context.Context, index string, query store.Query, size int) ([]*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*record.Record, 0)
	for _, r := range f.data[index] {
		out = append(out, r.Clone())
		if len(out) >= size {
			break
		}
	}
	return out, nil
}

func (f *fakeTextIndex) Ping(context.Context) error { return nil }

// fakeVectorIndex is a minimal in-memory stand-in for store.VectorIndex.
type fakeVectorIndex struct {
	mu   sync.Mutex
	data map[uuid.UUID]*record.Record
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{data: map[uuid.UUID]*record.Record{}}
}

func (f *fakeVectorIndex) Upsert(_ context.Context, r *record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[r.ID] = r.Clone()
	return nil
}

func (f *fakeVectorIndex) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, id)
	return nil
}

func (f *fakeVectorIndex) KNNSearch(_ context.Context, _ []float32, topK int, _ float32, _ map[string]any) ([]*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*record.Record, 0, len(f.data))
	for _, r := range f.data {
		out = append(out, r.Clone())
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func (f *fakeVectorIndex) Ping(context.Context) error { return nil }

func (f *fakeVectorIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

// fakeBibSystem is a minimal in-memory stand-in for store.BibSystem.
type fakeBibSystem struct {
	mu    sync.Mutex
	items map[string]*store.BibItem
	seq   int
}

func newFakeBibSystem() *fakeBibSystem {
	return &fakeBibSystem{items: map[string]*store.BibItem{}}
}

func (f *fakeBibSystem) Add(_ context.Context, item *store.BibItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	key := fmt.Sprintf("KEY%05d", f.seq)
	clone := *item
	clone.Key = key
	f.items[key] = &clone
	return key, nil
}

func (f *fakeBibSystem) Get(_ context.Context, key string) (*store.BibItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[key], nil
}

func (f *fakeBibSystem) Update(_ context.Context, key string, updates *store.BibItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[key]
	if !ok {
		return fmt.Errorf("fakeBibSystem: no item %s", key)
	}
	for k, v := range updates.Fields {
		item.Fields[k] = v
	}
	if len(updates.Creators) > 0 {
		item.Creators = updates.Creators
	}
	if len(updates.Tags) > 0 {
		item.Tags = updates.Tags
	}
	return nil
}

func (f *fakeBibSystem) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	return nil
}

func (f *fakeBibSystem) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[key]
	return ok, nil
}

func (f *fakeBibSystem) Search(context.Context, []store.BibSearchCondition, int) ([]*store.BibItem, error) {
	return nil, nil
}

func (f *fakeBibSystem) Ping(context.Context) error { return nil }

// fakeEmbedder returns a fixed-length deterministic vector regardless of
// input, enough to exercise every call site without a real model.
type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, f.dims), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedLong(context.Context, string, int) ([]float32, error) {
	return make([]float32, f.dims), nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

// fakeURLService returns a fixed fetch result for every URL.
type fakeURLService struct {
	content string
	err     error
}

func (f *fakeURLService) GetURL(context.Context, string, FetchOptions) (*FetchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &FetchResult{Content: f.content, Provider: "fake"}, nil
}

// fakeLLMClient answers every Complete call by calling respond, which
// decides how to shape the response from the request alone — enough to
// drive GetStructuredOutput's submit_result tool-call contract without a
// real model.
type fakeLLMClient struct {
	respond func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (f *fakeLLMClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return f.respond(req)
}

// submitJSON builds a fakeLLMClient responder that always calls
// submit_result with value, ignoring the prompt.
func submitJSON(value any) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{Name: "submit_result", Arguments: string(raw)}},
		}, nil
	}
}

func newTestDeps(t *testing.T, llmClient llm.Client) (Deps, *fakeBibSystem, *fakeVectorIndex) {
	t.Helper()
	text := newFakeTextIndex()
	vector := newFakeVectorIndex()
	forgotten := store.NewForgottenStore(text)
	main := store.NewMainStore(text, vector, forgotten)
	bib := newFakeBibSystem()

	return Deps{
		URLs:       &fakeURLService{content: "# Title\n\nSome content here."},
		Bib:        bib,
		Main:       main,
		Vector:     vector,
		Embedder:   &fakeEmbedder{dims: 8},
		Completion: llmClient,
	}, bib, vector
}

func TestResolveInputClassifiesSource(t *testing.T) {
	s := &DocumentState{Source: "https://example.com/paper.pdf"}
	out, err := ResolveInput(Deps{}).Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, out.IsURL)
	require.Empty(t, out.RawMarkdown)

	s2 := &DocumentState{Source: "# doc\n\nbody"}
	out2, err := ResolveInput(Deps{}).Run(context.Background(), s2)
	require.NoError(t, err)
	require.False(t, out2.IsURL)
	require.Equal(t, "# doc\n\nbody", out2.RawMarkdown)
}

func TestIsMarkdownRoute(t *testing.T) {
	route, err := IsMarkdownRoute(context.Background(), &DocumentState{IsURL: true})
	require.NoError(t, err)
	require.Equal(t, "extract", route)

	route, err = IsMarkdownRoute(context.Background(), &DocumentState{IsURL: false})
	require.NoError(t, err)
	require.Equal(t, "markdown", route)
}

func TestCreateStubWritesPlaceholder(t *testing.T) {
	deps, bib, _ := newTestDeps(t, nil)
	s := &DocumentState{Source: "https://example.com/paper.pdf", IsURL: true}

	out, err := CreateStub(deps).Run(context.Background(), s)
	require.NoError(t, err)
	require.NotEmpty(t, out.BibKey)
	require.Equal(t, "processing", out.Status)
	require.NotNil(t, out.L0)

	item, err := bib.Get(context.Background(), out.BibKey)
	require.NoError(t, err)
	require.Equal(t, []string{"pending"}, item.Tags)
}

func TestDetectChaptersBelowFloorSkipsTenthSummary(t *testing.T) {
	deps, _, _ := newTestDeps(t, nil)
	s := &DocumentState{RawMarkdown: "short document", WordCount: 10, NeedsTenthSummary: true}

	out, err := DetectChapters(deps).Run(context.Background(), s)
	require.NoError(t, err)
	require.False(t, out.NeedsTenthSummary)
	require.Empty(t, out.Chapters)
}

func TestDetectChaptersFallsBackToSizeBasedSplit(t *testing.T) {
	llmClient := &fakeLLMClient{respond: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, fmt.Errorf("llm unavailable")
	}}
	deps, _, _ := newTestDeps(t, llmClient)

	words := make([]byte, 0, 20000)
	for i := 0; i < 4000; i++ {
		words = append(words, []byte("word ")...)
	}
	s := &DocumentState{RawMarkdown: string(words), WordCount: 4000}

	out, err := DetectChapters(deps).Run(context.Background(), s)
	require.NoError(t, err)
	require.NotEmpty(t, out.Chapters)
}

func TestNeedsTenthSummaryRoute(t *testing.T) {
	route, err := NeedsTenthSummaryRoute(context.Background(), &DocumentState{NeedsTenthSummary: true, Chapters: []Chapter{{Title: "a"}}})
	require.NoError(t, err)
	require.Equal(t, "summarize", route)

	route, err = NeedsTenthSummaryRoute(context.Background(), &DocumentState{NeedsTenthSummary: false})
	require.NoError(t, err)
	require.Equal(t, "skip", route)
}

func TestPersistDualSummaryWritesEnglishOnly(t *testing.T) {
	deps, _, _ := newTestDeps(t, nil)
	s := &DocumentState{
		L0:           &record.Record{ID: uuid.New()},
		BibKey:       "KEY0001",
		LanguageCode: "en",
	}

	err := persistDualSummary(context.Background(), deps, s, record.LevelShort, "an english summary", "", time.Now())
	require.NoError(t, err)

	hits, err := deps.Main.Search(context.Background(), store.Query{}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "english", hits[0].Metadata["variant"])
}

func TestPersistDualSummaryWritesBothVariantsForNonEnglish(t *testing.T) {
	deps, _, _ := newTestDeps(t, nil)
	s := &DocumentState{
		L0:           &record.Record{ID: uuid.New()},
		BibKey:       "KEY0001",
		LanguageCode: "fr",
	}

	err := persistDualSummary(context.Background(), deps, s, record.LevelTenth, "english variant", "variante francaise", time.Now())
	require.NoError(t, err)

	hits, err := deps.Main.Search(context.Background(), store.Query{}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestValidateContentMetadataFlagsISBNMismatch(t *testing.T) {
	llmClient := &fakeLLMClient{respond: submitJSON(mismatchDecision{Mismatch: false})}
	deps, _, _ := newTestDeps(t, llmClient)
	s := &DocumentState{
		RawMarkdown: "This book does not mention any identifier at all.",
		Metadata:    Metadata{ISBN: "978-3-16-148410-0"},
	}

	out, err := ValidateContentMetadata(deps).Run(context.Background(), s)
	require.NoError(t, err)
	require.NotEmpty(t, out.ValidationWarning)
	require.NotEmpty(t, out.Errors)
}

func TestValidateContentMetadataAcceptsMatchingISBN(t *testing.T) {
	deps, _, _ := newTestDeps(t, nil)
	s := &DocumentState{
		RawMarkdown: "Published under ISBN 978-3-16-148410-0 in 2001.",
		Metadata:    Metadata{ISBN: "978-3-16-148410-0", Date: "2001"},
	}

	out, err := ValidateContentMetadata(deps).Run(context.Background(), s)
	require.NoError(t, err)
	require.Empty(t, out.ValidationWarning)
	require.Empty(t, out.Errors)
}

func TestNormalizeDigits(t *testing.T) {
	require.Equal(t, "978316148410X", normalizeDigits("978-3-16-148410-x"))
}

func TestUpdateStoreWithContentWritesChunkRecords(t *testing.T) {
	deps, _, vector := newTestDeps(t, nil)
	s := &DocumentState{
		RawMarkdown: "# Intro\n\nFirst section text.\n\n# Conclusion\n\nSecond section text.",
	}
	_, err := CreateStub(deps).Run(context.Background(), s)
	require.NoError(t, err)

	out, err := UpdateStoreWithContent(deps).Run(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, s.RawMarkdown, out.L0.Content)
	require.Equal(t, 2, vector.count())
}

func TestFinalizeMarksCompleted(t *testing.T) {
	logger := zap.NewNop()
	s := &DocumentState{StartedAt: time.Now()}
	out, err := Finalize(logger).Run(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, "completed", out.Status)
}

func TestProcessDocumentsBatchIsolatesFailures(t *testing.T) {
	llmClient := &fakeLLMClient{respond: submitJSON(summaryResult{Summary: "a summary"})}
	deps, _, _ := newTestDeps(t, llmClient)
	deps.URLs = &fakeURLService{err: fmt.Errorf("boom")}
	logger := zap.NewNop()

	results := ProcessDocumentsBatch(context.Background(), deps, logger, []string{
		"https://example.com/broken.pdf",
		"# A raw markdown document\n\nwith enough words to pass through cleanly.",
	})

	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	require.Equal(t, "failed", results[0].State.Status)
}
