package store

import (
	"context"
	"fmt"
	"time"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"github.com/google/uuid"
)

const coherenceIndex = "store_coherence"

// CoherenceStore is the single logical index backing cross-document
// coherence state. Update and Delete both require a reason and both
// write a WhoIWasRecord with the full prior serialization before
// proceeding, per spec.md §4.1.
type CoherenceStore struct {
	index   TextIndex
	history *HistoryStore
}

func NewCoherenceStore(index TextIndex, history *HistoryStore) *CoherenceStore {
	return &CoherenceStore{index: index, history: history}
}

func (c *CoherenceStore) Add(ctx context.Context, r *record.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("store: coherence add: %w", err)
	}
	return c.index.Add(ctx, coherenceIndex, r)
}

func (c *CoherenceStore) Get(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	return c.index.Get(ctx, coherenceIndex, id)
}

func (c *CoherenceStore) Search(ctx context.Context, query Query, size int) ([]*record.Record, error) {
	return c.index.Search(ctx, coherenceIndex, query, size)
}

// Update snapshots the pre-mutation record into history, then applies
// updates. reason must be non-empty.
func (c *CoherenceStore) Update(ctx context.Context, now time.Time, id uuid.UUID, updates map[string]any, reason string) error {
	if reason == "" {
		return &xerrors.ValidationError{Field: "reason", Reason: "coherence update requires a non-empty reason"}
	}
	before, err := c.index.Get(ctx, coherenceIndex, id)
	if err != nil {
		return fmt.Errorf("store: load record before coherence update: %w", err)
	}
	if before == nil {
		return &xerrors.NotFoundError{Store: "coherence", ID: id.String()}
	}
	if _, err := c.history.Snapshot(ctx, now, before, reason, record.StoreCoherence); err != nil {
		return err
	}
	if err := c.index.Update(ctx, coherenceIndex, id, updates); err != nil {
		return fmt.Errorf("store: apply coherence update to %s: %w", id, err)
	}
	return nil
}

// Delete snapshots the record into history, then deletes it. reason must
// be non-empty.
func (c *CoherenceStore) Delete(ctx context.Context, now time.Time, id uuid.UUID, reason string) error {
	if reason == "" {
		return &xerrors.ValidationError{Field: "reason", Reason: "coherence delete requires a non-empty reason"}
	}
	before, err := c.index.Get(ctx, coherenceIndex, id)
	if err != nil {
		return fmt.Errorf("store: load record before coherence delete: %w", err)
	}
	if before == nil {
		return &xerrors.NotFoundError{Store: "coherence", ID: id.String()}
	}
	if _, err := c.history.Snapshot(ctx, now, before, reason, record.StoreCoherence); err != nil {
		return err
	}
	if err := c.index.Delete(ctx, coherenceIndex, id); err != nil {
		return fmt.Errorf("store: delete coherence record %s: %w", id, err)
	}
	return nil
}

func (c *CoherenceStore) Ping(ctx context.Context) error {
	return c.index.Ping(ctx)
}
