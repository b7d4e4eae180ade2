package citepost

import (
	"context"

	"github.com/DaveCBeck/thala-sub002/ingest"
)

// URLServiceFetcher adapts ingest.URLService to PageFetcher, so
// citepost can reuse the same URL/PDF-to-markdown service the ingest
// pipeline uses for scraping without importing its whole Deps shape.
type URLServiceFetcher struct {
	Service ingest.URLService
}

func (f URLServiceFetcher) Fetch(ctx context.Context, url string) (string, error) {
	result, err := f.Service.GetURL(ctx, url, ingest.FetchOptions{Quality: ingest.PDFQualityFast})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
