package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeTextIndex is a single in-memory map keyed by index name, standing
// in for every Elasticsearch-compatible index this package addresses by
// name (store_l0/l1/l2, store_coherence, store_history, store_forgotten).
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
		return &xerrors.NotFoundError{Store: index, ID: id.String()}
	}
	for k, v := range updates {
		switch k {
		case "content":
			r.Content = v.(string)
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
	if _, ok := f.data[index][id]; !ok {
		return &xerrors.NotFoundError{Store: index, ID: id.String()}
	}
	delete(f.data[index], id)
	return nil
}

func (f *fakeTextIndex) Search(_ context.Context, index string, query Query, size int) ([]*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	term, _ := query["term"].(map[string]any)
	out := make([]*record.Record, 0)
	for _, r := range f.data[index] {
		if len(term) == 0 {
			out = append(out, r.Clone())
			continue
		}
		if matchesTerm(r, term) {
			out = append(out, r.Clone())
		}
		if len(out) >= size {
			break
		}
	}
	return out, nil
}

func matchesTerm(r *record.Record, term map[string]any) bool {
	for field, want := range term {
		switch field {
		case "source_ids":
			found := false
			for _, id := range r.SourceIDs {
				if id.String() == want {
					found = true
				}
			}
			if !found {
				return false
			}
		case "metadata.supersedes":
			if v, _ := r.Metadata["supersedes"].(string); v != want {
				return false
			}
		}
	}
	return true
}

func (f *fakeTextIndex) Ping(context.Context) error { return nil }

// fakeVectorIndex is a trivial in-memory stand-in for the Qdrant-backed
// VectorIndex: enough to exercise Upsert/Delete/KNNSearch call shapes,
// not a real similarity search.
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

// fakeBibSystem is a trivial in-memory Zotero stand-in.
type fakeBibSystem struct {
	mu    sync.Mutex
	items map[string]*BibItem
	next  int
}

func newFakeBibSystem() *fakeBibSystem {
	return &fakeBibSystem{items: map[string]*BibItem{}}
}

func (f *fakeBibSystem) Add(_ context.Context, item *BibItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	generated := genBibKey(f.next)
	clone := *item
	clone.Key = generated
	f.items[generated] = &clone
	return generated, nil
}

func genBibKey(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	key := make([]byte, 8)
	for i := range key {
		key[i] = alphabet[(n+i*7)%len(alphabet)]
	}
	return string(key)
}

func (f *fakeBibSystem) Get(_ context.Context, key string) (*BibItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[key]
	if !ok {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (f *fakeBibSystem) Update(_ context.Context, key string, updates *BibItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[key]
	if !ok {
		return &xerrors.NotFoundError{Store: "bib-system", ID: key}
	}
	if updates.Fields != nil {
		item.Fields = updates.Fields
	}
	return nil
}

func (f *fakeBibSystem) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return &xerrors.NotFoundError{Store: "bib-system", ID: key}
	}
	delete(f.items, key)
	return nil
}

func (f *fakeBibSystem) Exists(ctx context.Context, key string) (bool, error) {
	item, err := f.Get(ctx, key)
	return item != nil, err
}

func (f *fakeBibSystem) Search(context.Context, []BibSearchCondition, int) ([]*BibItem, error) {
	return nil, nil
}

func (f *fakeBibSystem) Ping(context.Context) error { return nil }

func newTestStores() (*MainStore, *CoherenceStore, *VectorStore, *HistoryStore, *ForgottenStore) {
	text := newFakeTextIndex()
	vector := newFakeVectorIndex()
	history := NewHistoryStore(text)
	forgotten := NewForgottenStore(text)
	main := NewMainStore(text, vector, forgotten)
	coherence := NewCoherenceStore(text, history)
	vstore := NewVectorStore(vector, history)
	return main, coherence, vstore, history, forgotten
}

// TestCoherenceStore_UpdateWritesHistory is scenario S3 from spec.md §8:
// updating a coherence record with a reason must leave exactly one new
// WhoIWasRecord whose supersedes/previous_data/reason match, and the
// record's updated_at must move strictly forward.
func TestCoherenceStore_UpdateWritesHistory(t *testing.T) {
	ctx := context.Background()
	main, coherence, _, history, _ := newTestStores()
	_ = main

	created := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	r := record.New(created, record.SourceInternal, record.LevelOriginal, "original body")
	r.CreatedAt = created
	r.UpdatedAt = created
	require.NoError(t, coherence.Add(ctx, r))

	updateTime := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, coherence.Update(ctx, updateTime, r.ID, map[string]any{"content": "refined body"}, "refined by user"))

	hist, err := history.GetHistory(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, r.ID, hist[0].Supersedes)
	require.Equal(t, "refined by user", hist[0].Reason)

	previous, err := hist[0].PreviousRecord()
	require.NoError(t, err)
	require.Equal(t, "original body", previous.Content)

	after, err := coherence.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "refined body", after.Content)
	require.True(t, after.UpdatedAt.After(after.CreatedAt))
}

func TestCoherenceStore_UpdateRequiresReason(t *testing.T) {
	ctx := context.Background()
	_, coherence, _, _, _ := newTestStores()
	r := record.New(time.Now(), record.SourceInternal, record.LevelOriginal, "x")
	require.NoError(t, coherence.Add(ctx, r))

	err := coherence.Update(ctx, time.Now(), r.ID, map[string]any{"content": "y"}, "")
	require.Error(t, err)
}

// TestMainStore_DeleteWritesForgottenArchive is scenario/property 2 from
// spec.md §8: a main-store delete(reason) must leave a ForgottenRecord
// referencing the deleted record with the given reason.
func TestMainStore_DeleteWritesForgottenArchive(t *testing.T) {
	ctx := context.Background()
	main, _, _, _, forgotten := newTestStores()

	r := record.New(time.Now(), record.SourceInternal, record.LevelOriginal, "to be forgotten")
	require.NoError(t, main.Add(ctx, r))

	require.NoError(t, main.Delete(ctx, time.Now(), r.ID, record.LevelOriginal, "superseded by a newer extraction"))

	archived, err := forgotten.GetArchived(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, "superseded by a newer extraction", archived[0].Reason)

	got, err := main.Get(ctx, r.ID, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMainStore_DeleteRequiresReason(t *testing.T) {
	ctx := context.Background()
	main, _, _, _, _ := newTestStores()
	r := record.New(time.Now(), record.SourceInternal, record.LevelOriginal, "x")
	require.NoError(t, main.Add(ctx, r))

	err := main.Delete(ctx, time.Now(), r.ID, record.LevelOriginal, "")
	require.Error(t, err)
	var verr *xerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestMainStore_GetBySourceID(t *testing.T) {
	ctx := context.Background()
	main, _, _, _, _ := newTestStores()

	parent := record.New(time.Now(), record.SourceInternal, record.LevelOriginal, "parent text")
	require.NoError(t, main.Add(ctx, parent))

	summary := record.New(time.Now(), record.SourceInternal, record.LevelShort, "a short summary")
	summary.SourceIDs = []uuid.UUID{parent.ID}
	require.NoError(t, main.Add(ctx, summary))

	got, err := main.GetBySourceID(ctx, parent.ID, record.LevelShort)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, summary.ID, got.ID)
}

func TestMainStore_KNNSearchRejectsL0(t *testing.T) {
	main, _, _, _, _ := newTestStores()
	l0 := record.LevelOriginal
	require.Panics(t, func() {
		_, _ = main.KNNSearch(context.Background(), []float32{0.1, 0.2}, 5, &l0)
	})
}

func TestMainStore_GetProbesAllLevelsWhenUnspecified(t *testing.T) {
	ctx := context.Background()
	main, _, _, _, _ := newTestStores()

	r := record.New(time.Now(), record.SourceInternal, record.LevelTenth, "compressed")
	r.SourceIDs = []uuid.UUID{uuid.New()}
	require.NoError(t, main.Add(ctx, r))

	got, err := main.Get(ctx, r.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, r.ID, got.ID)
}

func TestVectorStore_UpdateRequiresMatchingID(t *testing.T) {
	ctx := context.Background()
	_, _, vstore, _, _ := newTestStores()

	before := record.New(time.Now(), record.SourceInternal, record.LevelShort, "before")
	before.SourceIDs = []uuid.UUID{uuid.New()}
	before.Embedding = []float32{0.1, 0.2}

	after := record.New(time.Now(), record.SourceInternal, record.LevelShort, "after")
	after.SourceIDs = before.SourceIDs
	after.Embedding = []float32{0.3, 0.4}

	err := vstore.Update(ctx, time.Now(), before, after, "re-embedded")
	require.Error(t, err)
}

func TestBibSystem_AddThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	bib := newFakeBibSystem()

	key, err := bib.Add(ctx, &BibItem{ItemType: "document", Fields: map[string]string{"title": "A Paper"}})
	require.NoError(t, err)
	require.True(t, record.ValidBibKey(key))

	got, err := bib.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "A Paper", got.Fields["title"])
}

// TestHistoryCompleteness checks spec.md §8 property 1 directly: any
// successful mutation or deletion of a coherence-class record leaves a
// WhoIWasRecord whose timestamp does not precede the mutation and whose
// previous_data round-trips to the exact pre-mutation serialization.
func TestHistoryCompleteness(t *testing.T) {
	ctx := context.Background()
	_, coherence, _, history, _ := newTestStores()

	r := record.New(time.Now(), record.SourceInternal, record.LevelOriginal, "before mutation")
	require.NoError(t, coherence.Add(ctx, r))
	before, err := r.Serialize()
	require.NoError(t, err)

	mutateAt := time.Now().UTC()
	require.NoError(t, coherence.Update(ctx, mutateAt, r.ID, map[string]any{"content": "after mutation"}, "test mutation"))

	hist, err := history.GetHistory(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, r.ID, hist[0].Supersedes)
	require.False(t, hist[0].Timestamp.After(mutateAt))

	previous, err := hist[0].PreviousRecord()
	require.NoError(t, err)
	previousSerialized, err := previous.Serialize()
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(previousSerialized))

	require.NoError(t, coherence.Delete(ctx, time.Now().UTC(), r.ID, "test deletion"))
	histAfterDelete, err := history.GetHistory(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, histAfterDelete, 2)
}

func TestHealth_AggregatesAllBackends(t *testing.T) {
	ctx := context.Background()
	main, coherence, vstore, history, forgotten := newTestStores()
	bib := newFakeBibSystem()

	health := CheckHealth(ctx, main, coherence, vstore, bib, history, forgotten)
	require.True(t, health.Healthy())
}
