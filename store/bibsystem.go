// BibSystem: a Zotero-local-crud HTTP client. Grounded directly on
// core/stores/zotero/client.py (original_source) — the shape of the
// payloads (itemType/fields/creators/tags/collections), the action-style
// POST endpoints (/local-crud/item with an "action" field), and the
// not-found-as-200-with-error-body quirk are carried over unchanged.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/DaveCBeck/thala-sub002/httpx"
	"github.com/DaveCBeck/thala-sub002/xerrors"
)


// BibItem is a bibliographic record as Zotero's local-crud plugin shapes
// it: a type tag, a free-form field map, a creator list, tags and the
// collections it belongs to.
type BibItem struct {
	Key         string            `json:"key,omitempty"`
	ItemType    string            `json:"itemType"`
	Fields      map[string]string `json:"fields"`
	Creators    []BibCreator      `json:"creators,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Collections []string          `json:"collections,omitempty"`
}

// BibCreator is one author/editor/contributor entry on a BibItem.
type BibCreator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

// BibSearchCondition is one term in a Zotero quicksearch-style query.
type BibSearchCondition struct {
	Condition string `json:"condition"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
}

// BibSystem is the external bibliographic-management backend, addressed
// by an 8-char key that joins back to Record.BibKey.
type BibSystem interface {
	Add(ctx context.Context, item *BibItem) (string, error)
	Get(ctx context.Context, key string) (*BibItem, error)
	Update(ctx context.Context, key string, updates *BibItem) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Search(ctx context.Context, conditions []BibSearchCondition, limit int) ([]*BibItem, error)
	Ping(ctx context.Context) error
}

// ZoteroBibSystem talks to the zotero-local-crud plugin running inside a
// desktop Zotero instance, normally on localhost:23119 (the Zotero
// connector port).
type ZoteroBibSystem struct {
	baseURL string
	client  *http.Client
}

// NewZoteroBibSystem builds a client against host:port.
func NewZoteroBibSystem(host string, port int) *ZoteroBibSystem {
	return &ZoteroBibSystem{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		client:  httpx.NewClient(httpx.DefaultTimeout),
	}
}

func (z *ZoteroBibSystem) post(ctx context.Context, path string, body any, out any) (*http.Response, error) {
	var buf []byte
	var err error
	if body != nil {
		buf, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("store: encode zotero request: %w", err)
		}
	}

	var resp *http.Response
	var raw []byte
	err = httpx.RetryIdempotent(ctx, func() error {
		req, rErr := http.NewRequestWithContext(ctx, http.MethodPost, z.baseURL+path, bytes.NewReader(buf))
		if rErr != nil {
			return httpx.Permanent(rErr)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, rErr = z.client.Do(req)
		if rErr != nil {
			return rErr
		}
		defer resp.Body.Close()
		raw, rErr = io.ReadAll(resp.Body)
		return rErr
	})
	if err != nil {
		return nil, &xerrors.BackendUnavailableError{Backend: "bib-system", Err: err}
	}

	if out != nil && resp.StatusCode != http.StatusNotFound && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, fmt.Errorf("store: decode zotero response: %w", err)
		}
	}
	return resp, nil
}

func (z *ZoteroBibSystem) Add(ctx context.Context, item *BibItem) (string, error) {
	var result struct {
		Key string `json:"key"`
	}
	resp, err := z.post(ctx, "/local-crud/items", item, &result)
	if err != nil {
		return "", err
	}
	if err := httpx.CheckStatus(resp); err != nil {
		return "", err
	}
	return result.Key, nil
}

func (z *ZoteroBibSystem) Get(ctx context.Context, key string) (*BibItem, error) {
	var raw json.RawMessage
	resp, err := z.post(ctx, "/local-crud/item", map[string]string{"action": "get", "key": key}, &raw)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := httpx.CheckStatus(resp); err != nil {
		return nil, err
	}

	var errBody struct {
		Error string `json:"error"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &errBody)
		if errBody.Error == "Item not found" {
			return nil, nil
		}
	}

	item := &BibItem{}
	if err := json.Unmarshal(raw, item); err != nil {
		return nil, fmt.Errorf("store: decode zotero item: %w", err)
	}
	item.Key = key
	return item, nil
}

func (z *ZoteroBibSystem) Update(ctx context.Context, key string, updates *BibItem) error {
	payload := map[string]any{"action": "update", "key": key}
	if updates.Fields != nil {
		payload["fields"] = updates.Fields
	}
	if updates.Creators != nil {
		payload["creators"] = updates.Creators
	}
	if updates.Tags != nil {
		payload["tags"] = updates.Tags
	}
	if updates.Collections != nil {
		payload["collections"] = updates.Collections
	}

	resp, err := z.post(ctx, "/local-crud/item", payload, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return &xerrors.NotFoundError{Store: "bib-system", ID: key}
	}
	return httpx.CheckStatus(resp)
}

func (z *ZoteroBibSystem) Delete(ctx context.Context, key string) error {
	resp, err := z.post(ctx, "/local-crud/item", map[string]string{"action": "delete", "key": key}, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return &xerrors.NotFoundError{Store: "bib-system", ID: key}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return httpx.CheckStatus(resp)
}

func (z *ZoteroBibSystem) Exists(ctx context.Context, key string) (bool, error) {
	item, err := z.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

func (z *ZoteroBibSystem) Search(ctx context.Context, conditions []BibSearchCondition, limit int) ([]*BibItem, error) {
	var result struct {
		Items []*BibItem `json:"items"`
	}
	resp, err := z.post(ctx, "/local-crud/search", map[string]any{
		"conditions":      conditions,
		"limit":           limit,
		"includeFullData": true,
	}, &result)
	if err != nil {
		return nil, err
	}
	if err := httpx.CheckStatus(resp); err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (z *ZoteroBibSystem) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, z.baseURL+"/local-crud/ping", nil)
	if err != nil {
		return err
	}
	resp, err := z.client.Do(req)
	if err != nil {
		return &xerrors.BackendUnavailableError{Backend: "bib-system", Err: err}
	}
	defer resp.Body.Close()
	return httpx.CheckStatus(resp)
}
