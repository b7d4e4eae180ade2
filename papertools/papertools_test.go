package papertools

import (
	"context"
	"testing"
	"time"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeTextIndex struct {
	byIndex map[string][]*record.Record
}

func newFakeTextIndex() *fakeTextIndex {
	return &fakeTextIndex{byIndex: map[string][]*record.Record{}}
}

func (f *fakeTextIndex) Add(ctx context.Context, index string, r *record.Record) error {
	f.byIndex[index] = append(f.byIndex[index], r)
	return nil
}

func (f *fakeTextIndex) Get(ctx context.Context, index string, id uuid.UUID) (*record.Record, error) {
	for _, r := range f.byIndex[index] {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeTextIndex) Update(ctx context.Context, index string, id uuid.UUID, updates map[string]any) error {
	return nil
}

func (f *fakeTextIndex) Delete(ctx context.Context, index string, id uuid.UUID) error { return nil }

func (f *fakeTextIndex) Search(ctx context.Context, index string, query store.Query, size int) ([]*record.Record, error) {
	term, _ := query["term"].(map[string]any)
	match, _ := query["match"].(map[string]any)

	var out []*record.Record
	for _, r := range f.byIndex[index] {
		if term != nil {
			if bibKey, ok := term["bib_key"]; ok && r.BibKey == bibKey {
				out = append(out, r)
			}
			if doi, ok := term["metadata.doi"]; ok && r.Metadata != nil && r.Metadata["doi"] == doi {
				out = append(out, r)
			}
			if sourceID, ok := term["source_ids"]; ok {
				for _, id := range r.SourceIDs {
					if id.String() == sourceID {
						out = append(out, r)
					}
				}
			}
		}
		if match != nil {
			out = append(out, r) // every record "matches" a keyword query in this fake
		}
	}
	if len(out) > size {
		out = out[:size]
	}
	return out, nil
}

func (f *fakeTextIndex) Ping(ctx context.Context) error { return nil }

type fakeVectorIndex struct {
	points []*record.Record
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, r *record.Record) error {
	f.points = append(f.points, r)
	return nil
}
func (f *fakeVectorIndex) Delete(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeVectorIndex) KNNSearch(ctx context.Context, embedding []float32, topK int, minScore float32, filter map[string]any) ([]*record.Record, error) {
	out := f.points
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
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

func newRecord(bibKey, content string, level record.CompressionLevel) *record.Record {
	now := time.Now()
	r := record.New(now, record.SourceExternal, level, content)
	r.BibKey = bibKey
	if level != record.LevelOriginal {
		r.SourceIDs = []uuid.UUID{uuid.New()}
	}
	return r
}

func TestFuseRRFDeduplicatesAndRanksHigherOnOverlap(t *testing.T) {
	shared := newRecord("Shared01", "appears in both lists", record.LevelShort)
	semanticOnly := newRecord("SemOnly1", "semantic only", record.LevelShort)
	keywordOnly := newRecord("KeyOnly1", "keyword only", record.LevelShort)

	fused := fuseRRF(
		[]*record.Record{shared, semanticOnly},
		[]*record.Record{shared, keywordOnly},
	)

	require.Len(t, fused, 3)
	require.Greater(t, fused["Shared01"].score, fused["SemOnly1"].score)
	require.Greater(t, fused["Shared01"].score, fused["KeyOnly1"].score)
}

func TestTopResultsFiltersBelowMinRelevance(t *testing.T) {
	top := newRecord("TopOne01", "top", record.LevelShort)
	weak := newRecord("WeakOne1", "weak", record.LevelShort)

	fused := map[string]*fusedHit{
		"TopOne01": {record: top, score: 1.0},
		"WeakOne1": {record: weak, score: 0.1}, // normalized 0.1 < MinRelevance
	}

	results := topResults(fused, 10)
	require.Len(t, results, 1)
	require.Equal(t, "TopOne01", results[0].BibKey)
}

func TestSearchPapersFusesSemanticAndKeyword(t *testing.T) {
	ctx := context.Background()
	text := newFakeTextIndex()
	vector := &fakeVectorIndex{}
	forgotten := store.NewForgottenStore(text)
	main := store.NewMainStore(text, vector, forgotten)

	shared := newRecord("Shared01", "a paper about coral reefs", record.LevelShort)
	vector.points = append(vector.points, shared)
	text.byIndex["store_l1"] = append(text.byIndex["store_l1"], shared)

	deps := Deps{Main: main, Embedder: fakeEmbedder{}}
	results, err := SearchPapers(ctx, deps, "coral reefs", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Shared01", results[0].BibKey)
}

func TestGetPaperContentPrefersL2(t *testing.T) {
	ctx := context.Background()
	text := newFakeTextIndex()
	vector := &fakeVectorIndex{}
	forgotten := store.NewForgottenStore(text)
	main := store.NewMainStore(text, vector, forgotten)

	original := newRecord("Orig0001", "full original text", record.LevelOriginal)
	original.SourceIDs = nil
	tenth := newRecord("Orig0001", "condensed text", record.LevelTenth)
	tenth.SourceIDs = []uuid.UUID{original.ID}

	text.byIndex["store_l0"] = append(text.byIndex["store_l0"], original)
	text.byIndex["store_l2"] = append(text.byIndex["store_l2"], tenth)

	deps := Deps{Main: main, Embedder: fakeEmbedder{}}
	result, err := GetPaperContent(ctx, deps, "Orig0001", 0)
	require.NoError(t, err)
	require.Equal(t, "L2", result.Level)
	require.Equal(t, "condensed text", result.Content)
}

func TestGetPaperContentTruncates(t *testing.T) {
	ctx := context.Background()
	text := newFakeTextIndex()
	vector := &fakeVectorIndex{}
	forgotten := store.NewForgottenStore(text)
	main := store.NewMainStore(text, vector, forgotten)

	original := newRecord("Short001", "0123456789", record.LevelOriginal)
	original.SourceIDs = nil
	text.byIndex["store_l0"] = append(text.byIndex["store_l0"], original)

	deps := Deps{Main: main, Embedder: fakeEmbedder{}}
	result, err := GetPaperContent(ctx, deps, "Short001", 5)
	require.NoError(t, err)
	require.Equal(t, "L0", result.Level)
	require.True(t, result.Truncated)
	require.Equal(t, "01234", result.Content)
}
