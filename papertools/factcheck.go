package papertools

import (
	"context"
	"fmt"
	"net/http"

	"github.com/DaveCBeck/thala-sub002/httpx"
)

// FactCheckResult is one hit from the web fact-check/search service.
type FactCheckResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

type factCheckResponse struct {
	Results []FactCheckResult `json:"results"`
}

// FactCheckClient is the bearer-auth web fact-check/search collaborator
// named in spec.md §6, bound into the same loop-4/5/TODO-resolution
// agents that carry the paper-search tools.
type FactCheckClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewFactCheckClient builds a client against baseURL using apiKey as a
// bearer token.
func NewFactCheckClient(baseURL, apiKey string) *FactCheckClient {
	return &FactCheckClient{baseURL: baseURL, apiKey: apiKey, client: httpx.NewClient(httpx.DefaultTimeout)}
}

// Search runs a web search/fact-check query, capped at maxResults, per
// spec.md §6's "POST /search {query, max_results, search_domain_filter?}"
// contract. domainFilter may be empty.
func (f *FactCheckClient) Search(ctx context.Context, query string, maxResults int, domainFilter []string) ([]FactCheckResult, error) {
	body := map[string]any{
		"query":       query,
		"max_results": maxResults,
	}
	if len(domainFilter) > 0 {
		body["search_domain_filter"] = domainFilter
	}

	var resp factCheckResponse
	err := httpx.RetryIdempotent(ctx, func() error {
		return postJSONAuth(ctx, f.client, f.baseURL+"/search", f.apiKey, body, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("papertools: fact-check search: %w", err)
	}
	return resp.Results, nil
}
