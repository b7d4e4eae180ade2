// Package store is the tiered persistent knowledge store (C2): a logical
// front over a text/metadata index, a vector index, and an external
// bibliographic system, with mandatory history tracking on every
// mutation or deletion. Grounded on core/stores/elasticsearch/base.py
// and core/stores/elasticsearch/stores/main.py (original_source).
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DaveCBeck/thala-sub002/httpx"
	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"github.com/google/uuid"
)

// Query is the vendor query-DSL payload accepted verbatim by TextIndex,
// matching spec §6's "Accepts the vendor's query DSL verbatim in
// search".
type Query map[string]any

// TextIndex is the text/metadata index backend: one logical index per
// compression level plus coherence/history/forgotten, each independently
// addressable by name so MainStore can route by CompressionLevel.
type TextIndex interface {
	Add(ctx context.Context, index string, r *record.Record) error
	Get(ctx context.Context, index string, id uuid.UUID) (*record.Record, error)
	Update(ctx context.Context, index string, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, index string, id uuid.UUID) error
	Search(ctx context.Context, index string, query Query, size int) ([]*record.Record, error)
	Ping(ctx context.Context) error
}

// ESTextIndex talks to an Elasticsearch-compatible REST API over HTTP.
// No Elasticsearch Go client appears anywhere in the example corpus, so
// this is implemented directly against the documented REST surface
// (index/_doc, _update, _search) the same way
// core/stores/elasticsearch/base.py wraps the official Python client —
// see DESIGN.md for why a hand-rolled REST client, not a third-party
// driver, is the right call here.
type ESTextIndex struct {
	baseURL string
	client  *http.Client
}

// NewESTextIndex builds a client against host (e.g. "localhost:9200").
func NewESTextIndex(host string) *ESTextIndex {
	return &ESTextIndex{
		baseURL: "http://" + host,
		client:  httpx.NewClient(httpx.DefaultTimeout),
	}
}

func (e *ESTextIndex) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("store: encode request: %w", err)
		}
	}
	return httpx.RetryIdempotent(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return httpx.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return httpx.Permanent(&xerrors.NotFoundError{Store: "text-index", ID: path})
		}
		if err := httpx.CheckStatus(resp); err != nil {
			return err
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	})
}

func (e *ESTextIndex) Add(ctx context.Context, index string, r *record.Record) error {
	return e.do(ctx, http.MethodPut, fmt.Sprintf("/%s/_doc/%s", index, r.ID), r, nil)
}

func (e *ESTextIndex) Get(ctx context.Context, index string, id uuid.UUID) (*record.Record, error) {
	var hit struct {
		Source *record.Record `json:"_source"`
	}
	err := e.do(ctx, http.MethodGet, fmt.Sprintf("/%s/_doc/%s", index, id), nil, &hit)
	var nf *xerrors.NotFoundError
	if err != nil {
		if isNotFound(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return hit.Source, nil
}

func (e *ESTextIndex) Update(ctx context.Context, index string, id uuid.UUID, updates map[string]any) error {
	return e.do(ctx, http.MethodPost, fmt.Sprintf("/%s/_update/%s", index, id), map[string]any{"doc": updates}, nil)
}

func (e *ESTextIndex) Delete(ctx context.Context, index string, id uuid.UUID) error {
	return e.do(ctx, http.MethodDelete, fmt.Sprintf("/%s/_doc/%s", index, id), nil, nil)
}

func (e *ESTextIndex) Search(ctx context.Context, index string, query Query, size int) ([]*record.Record, error) {
	body := map[string]any{"query": query, "size": size}
	var resp struct {
		Hits struct {
			Hits []struct {
				Source *record.Record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := e.do(ctx, http.MethodPost, fmt.Sprintf("/%s/_search", index), body, &resp); err != nil {
		return nil, err
	}
	out := make([]*record.Record, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (e *ESTextIndex) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/_cluster/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return &xerrors.BackendUnavailableError{Backend: "text-index", Err: err}
	}
	defer resp.Body.Close()
	return httpx.CheckStatus(resp)
}

func isNotFound(err error, target **xerrors.NotFoundError) bool {
	for err != nil {
		if nf, ok := err.(*xerrors.NotFoundError); ok {
			*target = nf
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
