// MainStore: the tier-partitioned knowledge store. Grounded on
// core/stores/elasticsearch/stores/main.py's COMPRESSION_INDICES routing
// table and its get/get_by_source_id/delete-with-forgotten-archive
// semantics (original_source).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MainStore is partitioned by CompressionLevel into three logical text
// indices (L0, L1, L2), with L1/L2 additionally mirrored into the vector
// index for kNN search. All three levels share one ForgottenStore.
type MainStore struct {
	text      TextIndex
	vector    VectorIndex
	forgotten *ForgottenStore
}

func NewMainStore(text TextIndex, vector VectorIndex, forgotten *ForgottenStore) *MainStore {
	return &MainStore{text: text, vector: vector, forgotten: forgotten}
}

// Add persists r at its declared CompressionLevel. L1/L2 records with an
// embedding are also upserted into the vector index so KNNSearch can
// find them.
func (m *MainStore) Add(ctx context.Context, r *record.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("store: main add: %w", err)
	}
	if err := m.text.Add(ctx, r.CompressionLevel.IndexName(), r); err != nil {
		return fmt.Errorf("store: main add to %s: %w", r.CompressionLevel.IndexName(), err)
	}
	if r.CompressionLevel != record.LevelOriginal && len(r.Embedding) > 0 {
		if err := m.vector.Upsert(ctx, r); err != nil {
			return fmt.Errorf("store: mirror %s into vector index: %w", r.ID, err)
		}
	}
	return nil
}

// Get looks up id. If level is nil every level is probed concurrently;
// callers that already know the level should pass it to avoid the
// fan-out.
func (m *MainStore) Get(ctx context.Context, id uuid.UUID, level *record.CompressionLevel) (*record.Record, error) {
	if level != nil {
		return m.text.Get(ctx, level.IndexName(), id)
	}

	levels := []record.CompressionLevel{record.LevelOriginal, record.LevelShort, record.LevelTenth}
	results := make([]*record.Record, len(levels))

	g, gctx := errgroup.WithContext(ctx)
	for i, lvl := range levels {
		i, lvl := i, lvl
		g.Go(func() error {
			r, err := m.text.Get(gctx, lvl.IndexName(), id)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("store: probe levels for %s: %w", id, err)
	}

	for _, r := range results {
		if r != nil {
			return r, nil
		}
	}
	return nil, nil
}

// GetBySourceID locates a derivative given its parent id at a known
// level, matching the "locate a derivative given its parent" contract
// in spec.md §4.1.
func (m *MainStore) GetBySourceID(ctx context.Context, sourceID uuid.UUID, level record.CompressionLevel) (*record.Record, error) {
	hits, err := m.text.Search(ctx, level.IndexName(), Query{
		"term": map[string]any{"source_ids": sourceID.String()},
	}, 1)
	if err != nil {
		return nil, fmt.Errorf("store: get by source id %s at level %d: %w", sourceID, level, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return hits[0], nil
}

// Update applies updates to the record at id/level, then re-mirrors the
// refreshed record into the vector index if it's an L1/L2 record with an
// embedding.
func (m *MainStore) Update(ctx context.Context, now time.Time, id uuid.UUID, level record.CompressionLevel, updates map[string]any) error {
	if err := m.text.Update(ctx, level.IndexName(), id, updates); err != nil {
		return fmt.Errorf("store: main update %s: %w", id, err)
	}
	if level == record.LevelOriginal {
		return nil
	}
	refreshed, err := m.text.Get(ctx, level.IndexName(), id)
	if err != nil || refreshed == nil {
		return err
	}
	if len(refreshed.Embedding) > 0 {
		return m.vector.Upsert(ctx, refreshed)
	}
	return nil
}

// Search runs query against level, or every level when level is nil.
func (m *MainStore) Search(ctx context.Context, query Query, size int, level *record.CompressionLevel) ([]*record.Record, error) {
	if level != nil {
		return m.text.Search(ctx, level.IndexName(), query, size)
	}

	levels := []record.CompressionLevel{record.LevelOriginal, record.LevelShort, record.LevelTenth}
	resultSets := make([][]*record.Record, len(levels))

	g, gctx := errgroup.WithContext(ctx)
	for i, lvl := range levels {
		i, lvl := i, lvl
		g.Go(func() error {
			hits, err := m.text.Search(gctx, lvl.IndexName(), query, size)
			if err != nil {
				return err
			}
			resultSets[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("store: search all levels: %w", err)
	}

	var out []*record.Record
	for _, set := range resultSets {
		out = append(out, set...)
	}
	return out, nil
}

// KNNSearch searches the vector index. Requesting L0 is a programmer
// error — L0 is never embedded — per spec.md §4.1.
func (m *MainStore) KNNSearch(ctx context.Context, embedding []float32, k int, level *record.CompressionLevel) ([]*record.Record, error) {
	if level != nil && *level == record.LevelOriginal {
		panic("store: KNNSearch on L0 is a programmer error, L0 records are never embedded")
	}
	filter := map[string]any{}
	if level != nil {
		filter["compression_level"] = int(*level)
	}
	return m.vector.KNNSearch(ctx, embedding, k, 0, filter)
}

// Delete archives id into ForgottenStore, then removes it from level's
// text index and, if present, the vector index. reason must be
// non-empty.
func (m *MainStore) Delete(ctx context.Context, now time.Time, id uuid.UUID, level record.CompressionLevel, reason string) error {
	if reason == "" {
		return &xerrors.ValidationError{Field: "reason", Reason: "main delete requires a non-empty reason"}
	}
	before, err := m.text.Get(ctx, level.IndexName(), id)
	if err != nil {
		return fmt.Errorf("store: load record before delete: %w", err)
	}
	if before == nil {
		return &xerrors.NotFoundError{Store: "main", ID: id.String()}
	}
	if _, err := m.forgotten.Archive(ctx, now, before, reason); err != nil {
		return err
	}
	if err := m.text.Delete(ctx, level.IndexName(), id); err != nil {
		return fmt.Errorf("store: delete %s from %s: %w", id, level.IndexName(), err)
	}
	if level != record.LevelOriginal && len(before.Embedding) > 0 {
		if err := m.vector.Delete(ctx, id); err != nil {
			return fmt.Errorf("store: delete %s from vector index: %w", id, err)
		}
	}
	return nil
}

func (m *MainStore) Ping(ctx context.Context) error {
	return m.text.Ping(ctx)
}
