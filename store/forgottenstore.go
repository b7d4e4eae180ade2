package store

import (
	"context"
	"fmt"
	"time"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/google/uuid"
)

// ForgottenStore is the append-only deletion archive, partitioned
// separately from HistoryStore per spec.md §3's "same shape but
// partitioned separately from history".
type ForgottenStore struct {
	index TextIndex
}

// NewForgottenStore wraps the text index dedicated to
// THALA_ES_FORGOTTEN_HOST.
func NewForgottenStore(index TextIndex) *ForgottenStore {
	return &ForgottenStore{index: index}
}

// Archive writes a ForgottenRecord for deleted immediately before the
// caller actually removes it from its origin store. Every MainStore
// Delete calls this first, in the same logical operation as the removal.
func (f *ForgottenStore) Archive(ctx context.Context, now time.Time, deleted *record.Record, reason string) (*record.ForgottenRecord, error) {
	forgotten, err := record.NewForgottenRecord(now, deleted, reason)
	if err != nil {
		return nil, err
	}
	wrapped := &record.Record{
		ID:               forgotten.ID,
		SourceType:       record.SourceInternal,
		Content:          string(forgotten.PreviousData),
		CompressionLevel: record.LevelOriginal,
		CreatedAt:        forgotten.Timestamp,
		UpdatedAt:        forgotten.Timestamp,
		Metadata: map[string]any{
			"supersedes": forgotten.Supersedes.String(),
			"reason":     forgotten.Reason,
		},
	}
	if err := f.index.Add(ctx, forgottenIndex, wrapped); err != nil {
		return nil, fmt.Errorf("store: archive %s before deletion: %w", deleted.ID, err)
	}
	return forgotten, nil
}

// GetArchived returns every ForgottenRecord referencing id, used by the
// "archive completeness" property test in spec.md §8.
func (f *ForgottenStore) GetArchived(ctx context.Context, id uuid.UUID) ([]*record.ForgottenRecord, error) {
	hits, err := f.index.Search(ctx, forgottenIndex, Query{
		"term": map[string]any{"metadata.supersedes": id.String()},
	}, 1000)
	if err != nil {
		return nil, fmt.Errorf("store: get archive for %s: %w", id, err)
	}

	out := make([]*record.ForgottenRecord, 0, len(hits))
	for _, hit := range hits {
		forgotten := &record.ForgottenRecord{
			ID:           hit.ID,
			Supersedes:   id,
			PreviousData: []byte(hit.Content),
			Timestamp:    hit.CreatedAt,
		}
		if reason, ok := hit.Metadata["reason"].(string); ok {
			forgotten.Reason = reason
		}
		out = append(out, forgotten)
	}
	return out, nil
}

func (f *ForgottenStore) Ping(ctx context.Context) error {
	return f.index.Ping(ctx)
}
