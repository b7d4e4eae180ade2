package citepost

import (
	"context"
	"fmt"

	"github.com/DaveCBeck/thala-sub002/llm"
)

// enhancedFields is the LLM's structured fill for whatever the
// translation server left blank or got wrong, bound by scraped page
// content.
type enhancedFields struct {
	Title            string `json:"title"`
	Date             string `json:"date"`
	PublicationTitle string `json:"publication_title"`
	DOI              string `json:"doi"`
	Abstract         string `json:"abstract"`
}

// enhanceMetadata fills missing TranslationItem fields and corrects
// obvious errors using scraped page content, per spec.md §4.5's
// "LLM-enhance the returned metadata with any scraped page content".
func enhanceMetadata(ctx context.Context, completion llm.Client, item TranslationItem, scraped string) (TranslationItem, error) {
	if scraped == "" {
		return item, nil
	}
	if len(scraped) > 20_000 {
		scraped = scraped[:20_000]
	}

	prompt := fmt.Sprintf("Given this candidate bibliographic metadata and the scraped page content below, fill any "+
		"missing fields and correct any obviously wrong ones (e.g. a garbled title, a missing DOI visible in the "+
		"page text). Leave a field as-is if the candidate value already looks correct.\n\n"+
		"Candidate: title=%q date=%q publication_title=%q doi=%q abstract=%q\n\nScraped content:\n%s",
		item.Title, item.Date, item.PublicationTitle, item.DOI, item.Abstract, scraped)

	var fields enhancedFields
	if err := llm.GetStructuredOutput(ctx, completion, llm.TierHaiku, llm.DocumentAnalysisSystem, prompt, &fields, llm.StructuredOptions{}); err != nil {
		return item, err
	}

	if fields.Title != "" {
		item.Title = fields.Title
	}
	if fields.Date != "" {
		item.Date = fields.Date
	}
	if fields.PublicationTitle != "" {
		item.PublicationTitle = fields.PublicationTitle
	}
	if fields.DOI != "" {
		item.DOI = fields.DOI
	}
	if fields.Abstract != "" {
		item.Abstract = fields.Abstract
	}
	return item, nil
}
