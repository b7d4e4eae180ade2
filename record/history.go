package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogicalStore names the store a WhoIWasRecord or ForgottenRecord was
// captured from, used to keep the two audit partitions routable to the
// THALA_ES_COHERENCE_HOST / THALA_ES_FORGOTTEN_HOST split in spec §6.
type LogicalStore string

const (
	StoreMain       LogicalStore = "main"
	StoreCoherence  LogicalStore = "coherence"
	StoreVector     LogicalStore = "vector"
)

// WhoIWasRecord is a snapshot written before any mutation or deletion of
// a coherence- or vector-class record. It is the system's audit log: see
// the "history completeness" testable property in spec §8.
type WhoIWasRecord struct {
	ID            uuid.UUID       `json:"id"`
	Supersedes    uuid.UUID       `json:"supersedes"`
	Reason        string          `json:"reason"`
	PreviousData  json.RawMessage `json:"previous_data"`
	OriginalStore LogicalStore    `json:"original_store"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewWhoIWasRecord snapshots a record's current serialization before it
// is mutated or deleted. reason must be non-empty.
func NewWhoIWasRecord(now time.Time, supersedes *Record, reason string, store LogicalStore) (*WhoIWasRecord, error) {
	if reason == "" {
		return nil, fmt.Errorf("record: WhoIWasRecord requires a non-empty reason")
	}
	data, err := supersedes.Serialize()
	if err != nil {
		return nil, fmt.Errorf("record: snapshot previous data: %w", err)
	}
	return &WhoIWasRecord{
		ID:            uuid.New(),
		Supersedes:    supersedes.ID,
		Reason:        reason,
		PreviousData:  data,
		OriginalStore: store,
		Timestamp:     now.UTC(),
	}, nil
}

// PreviousRecord round-trips PreviousData back into a Record, used by the
// "history completeness" property test to assert the snapshot matches
// the pre-mutation record exactly.
func (w *WhoIWasRecord) PreviousRecord() (*Record, error) {
	return Deserialize(w.PreviousData)
}

// ForgottenRecord is an archive written before any deletion of a
// main-store record. It shares WhoIWasRecord's shape but lives in a
// separate, append-only partition.
type ForgottenRecord struct {
	ID           uuid.UUID       `json:"id"`
	Supersedes   uuid.UUID       `json:"supersedes"`
	Reason       string          `json:"reason"`
	PreviousData json.RawMessage `json:"previous_data"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewForgottenRecord archives a record immediately before its deletion.
// reason must be non-empty — it is the "human-meaningful reason" spec §3
// requires.
func NewForgottenRecord(now time.Time, deleted *Record, reason string) (*ForgottenRecord, error) {
	if reason == "" {
		return nil, fmt.Errorf("record: ForgottenRecord requires a non-empty reason")
	}
	data, err := deleted.Serialize()
	if err != nil {
		return nil, fmt.Errorf("record: snapshot deleted record: %w", err)
	}
	return &ForgottenRecord{
		ID:           uuid.New(),
		Supersedes:   deleted.ID,
		Reason:       reason,
		PreviousData: data,
		Timestamp:    now.UTC(),
	}, nil
}
