// Package citepost implements the Citation Post-Processor (spec.md
// §4.5): resolving every numeric citation in a finished review against
// the bibliographic system, creating bib items for URLs seen for the
// first time, and rewriting the review to reference them by key.
package citepost

import (
	"context"
	"fmt"

	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"go.uber.org/zap"
)

// FanOutBound is the citation post-processing concurrency bound, per
// spec.md §5's "Citation post-processing: 3".
const FanOutBound = 3

// AutoCitationTags are applied to every bib item this package creates,
// per spec.md §4.5.
var AutoCitationTags = []string{"thala-research", "auto-citation"}

// PageFetcher scrapes a URL to markdown content for metadata
// enhancement. Kept as a narrow interface (rather than importing
// ingest.URLService directly) so citepost doesn't pull in the whole
// ingest pipeline for one method, the same decoupling loop2 uses for
// MiniReviewRunner.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (content string, err error)
}

// Deps bundles citepost.ProcessReview's backends.
type Deps struct {
	Bib         store.BibSystem
	Translation TranslationClient
	Fetcher     PageFetcher
	Completion  llm.Client
	Logger      *zap.Logger
}

// resolution is one unique URL's outcome: the bib key it now maps to,
// or an error if it couldn't be resolved.
type resolution struct {
	url string
	key string
	err error
}

// ProcessReview resolves every numeric citation in document against the
// bibliographic system and rewrites it in place, per spec.md §4.5.
func ProcessReview(ctx context.Context, deps Deps, document string) (string, error) {
	refs := extractReferences(document)
	if len(refs) == 0 {
		return document, nil
	}

	urlToNumbers := map[string][]int{}
	for _, ref := range refs {
		normalized := normalizeURL(ref.URL)
		urlToNumbers[normalized] = append(urlToNumbers[normalized], ref.Number)
	}

	uniqueURLs := make([]string, 0, len(urlToNumbers))
	titleByURL := map[string]string{}
	for _, ref := range refs {
		normalized := normalizeURL(ref.URL)
		if _, seen := titleByURL[normalized]; !seen {
			titleByURL[normalized] = ref.Title
			uniqueURLs = append(uniqueURLs, normalized)
		}
	}

	results, _ := flow.FanOutTolerant(ctx, FanOutBound, uniqueURLs, func(ctx context.Context, normalized string) (resolution, error) {
		key, err := resolveURL(ctx, deps, normalized, titleByURL[normalized])
		return resolution{url: normalized, key: key, err: err}, nil
	})

	numberToKey := map[int]string{}
	for _, res := range results {
		if res.err != nil {
			if deps.Logger != nil {
				deps.Logger.Warn("citation post-processing: failed to resolve url", zap.String("url", res.url), zap.Error(res.err))
			}
			continue
		}
		for _, number := range urlToNumbers[res.url] {
			numberToKey[number] = res.key
		}
	}

	return rewriteCitations(document, refs, numberToKey), nil
}

// resolveURL returns the bib key for url, reusing an existing bib item
// found by URL search, or creating one from the translation server's
// metadata (LLM-enhanced with scraped content) otherwise.
func resolveURL(ctx context.Context, deps Deps, normalizedURL, title string) (string, error) {
	existing, err := deps.Bib.Search(ctx, []store.BibSearchCondition{
		{Condition: "url", Operator: "is", Value: normalizedURL},
	}, 1)
	if err != nil {
		return "", &xerrors.BackendUnavailableError{Backend: "bib-system", Err: err}
	}
	if len(existing) > 0 && existing[0].Key != "" {
		return existing[0].Key, nil
	}

	items, err := deps.Translation.ResolveWeb(ctx, normalizedURL, newSessionID())
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("citepost: translation server returned no candidates for %s", normalizedURL)
	}
	item := items[0]

	var scraped string
	if deps.Fetcher != nil {
		scraped, _ = deps.Fetcher.Fetch(ctx, normalizedURL)
	}
	if deps.Completion != nil {
		if enhanced, err := enhanceMetadata(ctx, deps.Completion, item, scraped); err == nil {
			item = enhanced
		}
	}

	bibItem := toBibItem(item, normalizedURL, title)
	return deps.Bib.Add(ctx, bibItem)
}

// toBibItem maps a TranslationItem into the bib system's create payload,
// per spec.md §4.5's "mapped item type, authors, date, publication
// title, DOI, abstract, and tags".
func toBibItem(item TranslationItem, normalizedURL, fallbackTitle string) *store.BibItem {
	title := item.Title
	if title == "" {
		title = fallbackTitle
	}
	itemType := item.ItemType
	if itemType == "" {
		itemType = "webpage"
	}

	fields := map[string]string{
		"title": title,
		"url":   normalizedURL,
	}
	if item.Date != "" {
		fields["date"] = item.Date
	}
	if item.PublicationTitle != "" {
		fields["publicationTitle"] = item.PublicationTitle
	}
	if item.DOI != "" {
		fields["DOI"] = item.DOI
	}
	if item.Abstract != "" {
		fields["abstractNote"] = item.Abstract
	}

	creators := make([]store.BibCreator, 0, len(item.Creators))
	for _, c := range item.Creators {
		creators = append(creators, store.BibCreator{
			CreatorType: orDefault(c.CreatorType, "author"),
			FirstName:   c.FirstName,
			LastName:    c.LastName,
			Name:        c.Name,
		})
	}

	return &store.BibItem{
		ItemType: itemType,
		Fields:   fields,
		Creators: creators,
		Tags:     AutoCitationTags,
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
