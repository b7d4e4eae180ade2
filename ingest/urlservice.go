package ingest

import (
	"context"
	"net/http"

	"github.com/DaveCBeck/thala-sub002/httpx"
)

// PDFQuality is the OCR/extraction preset the URL/HTML/PDF-to-markdown
// service accepts, per spec.md §6's "URL/PDF service" interface.
type PDFQuality string

const (
	PDFQualityFast     PDFQuality = "fast"
	PDFQualityBalanced PDFQuality = "balanced"
	PDFQualityQuality  PDFQuality = "quality"
)

// FetchOptions configures a get_url call.
type FetchOptions struct {
	Quality     PDFQuality
	OCRLanguages []string
}

// FetchResult is the service's {content, provider} response.
type FetchResult struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
}

// URLService is the external URL/HTML/PDF-to-markdown collaborator
// named in spec.md §6. No example repo or other_examples/ file carries
// a client for such a service, so this is a small hand-rolled REST
// client in the same style as store.ESTextIndex and llm.OllamaEmbedder.
type URLService interface {
	GetURL(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error)
}

type HTTPURLService struct {
	baseURL string
	client  *http.Client
}

func NewHTTPURLService(baseURL string) *HTTPURLService {
	return &HTTPURLService{baseURL: baseURL, client: httpx.NewClient(httpx.DefaultTimeout)}
}

func (s *HTTPURLService) GetURL(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error) {
	quality := opts.Quality
	if quality == "" {
		quality = PDFQualityBalanced
	}
	body := map[string]any{
		"url":           url,
		"quality":       quality,
		"ocr_languages": opts.OCRLanguages,
	}
	var result FetchResult
	err := httpx.RetryIdempotent(ctx, func() error {
		return postJSON(ctx, s.client, s.baseURL+"/get_url", body, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
