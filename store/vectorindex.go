// VectorIndex and its Qdrant implementation. Grounded on
// ai/providers/vectorstores/qdrant/store.go (Tangerg-lynx), the teacher's
// own wiring of github.com/qdrant/go-client: collection lifecycle via
// CollectionExists/CreateCollection, points via PointStruct/NewVectors,
// payload via qdrant.TryValueMap, search via the Query RPC with a score
// threshold and limit. Vector distance is switched to cosine for the
// same reason the teacher picks it (text embeddings, not raw features).
package store

import (
	"context"
	"fmt"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// VectorIndex is the embedding-similarity backend behind
// store.VectorStore's working-set records. Chroma is named in spec §6 as
// the reference deployment; no Chroma Go driver exists anywhere in the
// example corpus, so this module speaks to Qdrant instead, over the one
// vector-database SDK the pack actually wires
// (github.com/qdrant/go-client) — see DESIGN.md.
type VectorIndex interface {
	Upsert(ctx context.Context, r *record.Record) error
	Delete(ctx context.Context, id uuid.UUID) error
	KNNSearch(ctx context.Context, embedding []float32, topK int, minScore float32, filter map[string]any) ([]*record.Record, error)
	Ping(ctx context.Context) error
}

// payloadContentKey mirrors the teacher's payloadDocumentContentKey:
// record content rides along in the payload so a KNN hit can be turned
// back into a full Record without a second round trip to the text index.
const payloadContentKey = "__record_content__"

// QdrantVectorIndex stores one collection's worth of Records as points,
// with Content, SourceIDs and friends flattened into the point payload
// and Embedding as the point vector.
type QdrantVectorIndex struct {
	client         *qdrant.Client
	collectionName string
}

// NewQdrantVectorIndex dials host:port and ensures collectionName exists
// with the given vector dimension, matching the teacher's
// InitializeSchema path in VectorStoreConfig.
func NewQdrantVectorIndex(ctx context.Context, host string, port int, collectionName string, dimensions uint64) (*QdrantVectorIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("store: dial qdrant: %w", err)
	}

	idx := &QdrantVectorIndex{client: client, collectionName: collectionName}
	if err := idx.ensureCollection(ctx, dimensions); err != nil {
		return nil, err
	}
	return idx, nil
}

func (q *QdrantVectorIndex) ensureCollection(ctx context.Context, dimensions uint64) error {
	exists, err := q.client.CollectionExists(ctx, q.collectionName)
	if err != nil {
		return fmt.Errorf("store: check collection %s: %w", q.collectionName, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("store: create collection %s: %w", q.collectionName, err)
	}
	return nil
}

func (q *QdrantVectorIndex) buildPoint(r *record.Record) (*qdrant.PointStruct, error) {
	if len(r.Embedding) == 0 {
		return nil, &xerrors.ValidationError{Field: "embedding", Reason: "record has no embedding to index"}
	}

	payload, err := record.FlattenMetadata(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("store: flatten metadata for %s: %w", r.ID, err)
	}
	payload["source_type"] = string(r.SourceType)
	payload["compression_level"] = int64(r.CompressionLevel)
	payload["bib_key"] = r.BibKey
	payload["language_code"] = r.LanguageCode
	payload[payloadContentKey] = r.Content

	qValue, err := qdrant.TryValueMap(payload)
	if err != nil {
		return nil, fmt.Errorf("store: convert payload for %s: %w", r.ID, err)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewID(r.ID.String()),
		Vectors: qdrant.NewVectors(r.Embedding...),
		Payload: qValue,
	}, nil
}

func (q *QdrantVectorIndex) Upsert(ctx context.Context, r *record.Record) error {
	point, err := q.buildPoint(r)
	if err != nil {
		return err
	}
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return &xerrors.BackendUnavailableError{Backend: "vector-index", Err: err}
	}
	return nil
}

func (q *QdrantVectorIndex) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(id.String())}},
			},
		},
	})
	if err != nil {
		return &xerrors.BackendUnavailableError{Backend: "vector-index", Err: err}
	}
	return nil
}

func (q *QdrantVectorIndex) KNNSearch(ctx context.Context, embedding []float32, topK int, minScore float32, filter map[string]any) ([]*record.Record, error) {
	query := &qdrant.QueryPoints{
		CollectionName: q.collectionName,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          ptrOf(uint64(topK)),
		ScoreThreshold: ptrOf(minScore),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		f, err := toQdrantFilter(filter)
		if err != nil {
			return nil, err
		}
		query.Filter = f
	}

	points, err := q.client.Query(ctx, query)
	if err != nil {
		return nil, &xerrors.BackendUnavailableError{Backend: "vector-index", Err: err}
	}

	out := make([]*record.Record, 0, len(points))
	for _, p := range points {
		r, err := recordFromPoint(p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (q *QdrantVectorIndex) Ping(ctx context.Context) error {
	_, err := q.client.CollectionExists(ctx, q.collectionName)
	if err != nil {
		return &xerrors.BackendUnavailableError{Backend: "vector-index", Err: err}
	}
	return nil
}

// toQdrantFilter builds an AND-of-equals filter, the only shape the
// pipeline and review loops need (metadata equality on a handful of
// keys such as document_id or loop_number).
func toQdrantFilter(filter map[string]any) (*qdrant.Filter, error) {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		switch val := v.(type) {
		case string:
			conditions = append(conditions, qdrant.NewMatchKeyword(k, val))
		case int:
			conditions = append(conditions, qdrant.NewMatchInt(k, int64(val)))
		case int64:
			conditions = append(conditions, qdrant.NewMatchInt(k, val))
		default:
			return nil, &xerrors.ValidationError{Field: k, Reason: "unsupported filter value type"}
		}
	}
	return &qdrant.Filter{Must: conditions}, nil
}

func recordFromPoint(p *qdrant.ScoredPoint) (*record.Record, error) {
	id, err := uuid.Parse(p.GetId().GetUuid())
	if err != nil {
		return nil, fmt.Errorf("store: point id %q is not a uuid: %w", p.GetId().GetUuid(), err)
	}

	payload := p.GetPayload()
	r := &record.Record{
		ID:       id,
		Metadata: map[string]any{},
	}
	for k, v := range payload {
		switch k {
		case payloadContentKey:
			r.Content = v.GetStringValue()
		case "source_type":
			r.SourceType = record.SourceType(v.GetStringValue())
		case "compression_level":
			r.CompressionLevel = record.CompressionLevel(v.GetIntegerValue())
		case "bib_key":
			r.BibKey = v.GetStringValue()
		case "language_code":
			r.LanguageCode = v.GetStringValue()
		default:
			r.Metadata[k] = qdrantValueToAny(v)
		}
	}
	return r, nil
}

func ptrOf[T any](v T) *T { return &v }

func qdrantValueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}
