package store

import (
	"context"
	"fmt"
	"time"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/xerrors"
)

// VectorStore is the wrapper around VectorIndex for L0-ish "working set"
// records: Update and Delete write WhoIWasRecord snapshots, and Metadata
// is flattened to the scalar-only shape the vector backend accepts
// before an Upsert, per spec.md §4.1.
type VectorStore struct {
	index   VectorIndex
	history *HistoryStore
	// The vector backend is not a reliable read-your-writes source for
	// full record content, so mutations here require the caller to pass
	// the known-current record rather than re-fetching it by kNN.
}

func NewVectorStore(index VectorIndex, history *HistoryStore) *VectorStore {
	return &VectorStore{index: index, history: history}
}

func (v *VectorStore) Add(ctx context.Context, r *record.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("store: vector add: %w", err)
	}
	flat, err := record.FlattenMetadata(r.Metadata)
	if err != nil {
		return fmt.Errorf("store: flatten metadata for %s: %w", r.ID, err)
	}
	toIndex := r.Clone()
	toIndex.Metadata = flat
	return v.index.Upsert(ctx, toIndex)
}

// Update snapshots before into history, flattens after's metadata, and
// upserts after in after's place. The caller supplies both values
// because the vector backend's payload projection cannot reliably
// reconstruct the pre-mutation Record on its own.
func (v *VectorStore) Update(ctx context.Context, now time.Time, before, after *record.Record, reason string) error {
	if reason == "" {
		return &xerrors.ValidationError{Field: "reason", Reason: "vector update requires a non-empty reason"}
	}
	if before.ID != after.ID {
		return &xerrors.ValidationError{Field: "id", Reason: "vector update before/after id mismatch"}
	}
	if _, err := v.history.Snapshot(ctx, now, before, reason, record.StoreVector); err != nil {
		return err
	}
	after.Touch(now)
	return v.Add(ctx, after)
}

func (v *VectorStore) Delete(ctx context.Context, now time.Time, before *record.Record, reason string) error {
	if reason == "" {
		return &xerrors.ValidationError{Field: "reason", Reason: "vector delete requires a non-empty reason"}
	}
	if _, err := v.history.Snapshot(ctx, now, before, reason, record.StoreVector); err != nil {
		return err
	}
	return v.index.Delete(ctx, before.ID)
}

func (v *VectorStore) KNNSearch(ctx context.Context, embedding []float32, topK int, minScore float32, filter map[string]any) ([]*record.Record, error) {
	return v.index.KNNSearch(ctx, embedding, topK, minScore, filter)
}

func (v *VectorStore) Ping(ctx context.Context) error {
	return v.index.Ping(ctx)
}
