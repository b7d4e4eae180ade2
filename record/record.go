// Package record defines the canonical entity schema shared by every
// backend in package store: the content-addressed Record, and the two
// audit types: WhoIWasRecord, written before any mutation or deletion of
// a coherence- or vector-class record, and ForgottenRecord, written
// before a main-store record is deleted.
//
// Grounded on core/stores/schema.py (original_source) and the routing
// table in core/stores/elasticsearch/stores/main.py.
package record

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SourceType distinguishes records that originate outside the system
// (and therefore must carry a bibliographic key) from ones the system
// derives itself.
type SourceType string

const (
	SourceExternal SourceType = "EXTERNAL"
	SourceInternal SourceType = "INTERNAL"
)

// CompressionLevel is the tier a Record's content lives at.
type CompressionLevel int

const (
	// LevelOriginal is the untouched source text (L0).
	LevelOriginal CompressionLevel = 0
	// LevelShort is a roughly 100-word summary (L1).
	LevelShort CompressionLevel = 1
	// LevelTenth is a roughly 10:1 compressed summary (L2).
	LevelTenth CompressionLevel = 2
)

// IndexName returns the logical text-index name a record at this level
// is routed to, matching MainStore.COMPRESSION_INDICES.
func (l CompressionLevel) IndexName() string {
	switch l {
	case LevelShort:
		return "store_l1"
	case LevelTenth:
		return "store_l2"
	default:
		return "store_l0"
	}
}

var bibKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)

// ValidBibKey reports whether key has the shape required of a
// bibliographic-system key: exactly 8 alphanumeric characters.
func ValidBibKey(key string) bool {
	return bibKeyPattern.MatchString(key)
}

// Record is the canonical unit persisted by package store.
type Record struct {
	ID               uuid.UUID        `json:"id"`
	SourceType       SourceType       `json:"source_type"`
	Content          string           `json:"content"`
	CompressionLevel CompressionLevel `json:"compression_level"`
	SourceIDs        []uuid.UUID      `json:"source_ids,omitempty"`
	BibKey           string           `json:"bib_key,omitempty"`
	LanguageCode     string           `json:"language_code,omitempty"`
	Embedding        []float32        `json:"embedding,omitempty"`
	EmbeddingModel   string           `json:"embedding_model,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// New constructs a Record with a fresh id and both timestamps set to now
// (UTC), matching the "every persisted record has a well-formed id and
// both timestamps" invariant.
func New(now time.Time, sourceType SourceType, level CompressionLevel, content string) *Record {
	now = now.UTC()
	return &Record{
		ID:               uuid.New(),
		SourceType:       sourceType,
		Content:          content,
		CompressionLevel: level,
		Metadata:         map[string]any{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate enforces the structural invariants from spec §3 that do not
// require consulting the store (lineage existence is a store-level
// check; see store.MainStore.ResolveLineage).
func (r *Record) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("record: missing id")
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		return fmt.Errorf("record %s: missing timestamp", r.ID)
	}
	if r.CompressionLevel > LevelOriginal && len(r.SourceIDs) == 0 {
		return fmt.Errorf("record %s: derivative at level %d has no source_ids", r.ID, r.CompressionLevel)
	}
	if r.SourceType == SourceExternal {
		if r.BibKey == "" || !ValidBibKey(r.BibKey) {
			return fmt.Errorf("record %s: EXTERNAL record requires an 8-char alphanumeric bib_key, got %q", r.ID, r.BibKey)
		}
	}
	return nil
}

// Touch bumps UpdatedAt to now, used by every store.Update implementation
// right before it persists a mutation.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now.UTC()
}

// Serialize produces the canonical on-the-wire JSON for a Record: the
// same field names and null-vs-absent policy across every backend
// (text index, vector index metadata projection, WhoIWas snapshot).
func (r *Record) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

// Deserialize is the inverse of Serialize.
func Deserialize(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("record: deserialize: %w", err)
	}
	return &r, nil
}

// Clone returns a deep-enough copy suitable for snapshotting into a
// WhoIWasRecord before a mutation is applied in place.
func (r *Record) Clone() *Record {
	clone := *r
	clone.SourceIDs = append([]uuid.UUID(nil), r.SourceIDs...)
	if r.Embedding != nil {
		clone.Embedding = append([]float32(nil), r.Embedding...)
	}
	clone.Metadata = make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// FlattenMetadata projects Metadata into the scalar-only shape the
// vector index accepts: strings/numbers/booleans pass through,
// lists/maps are JSON-serialized, and nils are dropped.
func FlattenMetadata(meta map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if v == nil {
			continue
		}
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64:
			out[k] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("record: flatten metadata key %q: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}
