package store

import (
	"context"
	"fmt"
	"time"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/google/uuid"
)

const (
	historyIndex   = "store_history"
	forgottenIndex = "store_forgotten"
)

// HistoryStore is the append-only WhoIWas partition: nothing routed here
// is ever updated or deleted, matching spec.md §4.1's "HistoryStore —
// append-only".
type HistoryStore struct {
	index TextIndex
}

// NewHistoryStore wraps the text index dedicated to
// THALA_ES_COHERENCE_HOST, the host spec.md §6 routes history writes to.
func NewHistoryStore(index TextIndex) *HistoryStore {
	return &HistoryStore{index: index}
}

// Snapshot records before, writes a WhoIWasRecord for it, and returns the
// snapshot. Every Update/Delete on CoherenceStore and VectorStore calls
// this first, in the same logical operation as the mutation it precedes.
func (h *HistoryStore) Snapshot(ctx context.Context, now time.Time, before *record.Record, reason string, origin record.LogicalStore) (*record.WhoIWasRecord, error) {
	who, err := record.NewWhoIWasRecord(now, before, reason, origin)
	if err != nil {
		return nil, err
	}
	body, err := who.PreviousRecord()
	if err != nil {
		return nil, fmt.Errorf("store: round-trip snapshot before write: %w", err)
	}
	wrapped := &record.Record{
		ID:               who.ID,
		SourceType:       record.SourceInternal,
		Content:          string(who.PreviousData),
		CompressionLevel: record.LevelOriginal,
		CreatedAt:        who.Timestamp,
		UpdatedAt:        who.Timestamp,
		Metadata: map[string]any{
			"supersedes":     who.Supersedes.String(),
			"reason":         who.Reason,
			"original_store": string(who.OriginalStore),
			"previous_id":    body.ID.String(),
		},
	}
	if err := h.index.Add(ctx, historyIndex, wrapped); err != nil {
		return nil, fmt.Errorf("store: write history snapshot for %s: %w", who.Supersedes, err)
	}
	return who, nil
}

// GetHistory returns the temporal list of prior snapshots for id, the
// "get_history(id)" operation spec.md §4.1 names. Results are not
// guaranteed ordered by the backend; callers needing chronological order
// sort on Timestamp.
func (h *HistoryStore) GetHistory(ctx context.Context, id uuid.UUID) ([]*record.WhoIWasRecord, error) {
	hits, err := h.index.Search(ctx, historyIndex, Query{
		"term": map[string]any{"metadata.supersedes": id.String()},
	}, 1000)
	if err != nil {
		return nil, fmt.Errorf("store: get history for %s: %w", id, err)
	}

	out := make([]*record.WhoIWasRecord, 0, len(hits))
	for _, hit := range hits {
		who := &record.WhoIWasRecord{
			ID:           hit.ID,
			Supersedes:   id,
			PreviousData: []byte(hit.Content),
			Timestamp:    hit.CreatedAt,
		}
		if reason, ok := hit.Metadata["reason"].(string); ok {
			who.Reason = reason
		}
		if origin, ok := hit.Metadata["original_store"].(string); ok {
			who.OriginalStore = record.LogicalStore(origin)
		}
		out = append(out, who)
	}
	return out, nil
}

func (h *HistoryStore) Ping(ctx context.Context) error {
	return h.index.Ping(ctx)
}
