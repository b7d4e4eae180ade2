package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/store"
)

type summaryResult struct {
	Summary string `json:"summary"`
}

type metadataResult struct {
	Title          string            `json:"title"`
	Authors        []string          `json:"authors"`
	Date           string            `json:"date"`
	Publisher      string            `json:"publisher"`
	ISBN           string            `json:"isbn"`
	IsMultiAuthor  bool              `json:"is_multi_author"`
	ChapterAuthors map[string]string `json:"chapter_authors"`
}

// SummaryAgent produces a ~100-word summary of the document under the
// shared document-analysis system prompt, condensing inputs over 50k
// characters to first_n_pages + "[...]" + last_n_pages before sending
// them, per spec.md §4.3's summary_agent contract. The result is
// written into state but not yet persisted: SaveShortSummary does that.
func SummaryAgent(deps Deps) flow.Node[*DocumentState] {
	deps = deps.withDefaults()
	return flow.NewFunc("summary_agent", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		text := condenseForSummary(s.RawMarkdown, deps.SummaryCondenseChars, deps.SummaryPageChars)

		var result summaryResult
		err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierHaiku, llm.DocumentAnalysisSystem,
			"Summarize the following document in about 100 words:\n\n"+text, &result,
			llm.StructuredOptions{})
		if err != nil {
			return s, fmt.Errorf("summary_agent: %w", err)
		}

		if s.isNonEnglish() {
			s.ShortSummaryOrig = result.Summary
			translated, err := translateToEnglish(ctx, deps, result.Summary, s.LanguageCode)
			if err != nil {
				return s, fmt.Errorf("summary_agent: translate: %w", err)
			}
			s.ShortSummary = translated
			return s, nil
		}
		s.ShortSummary = result.Summary
		return s, nil
	})
}

// MetadataAgent extracts bibliographic metadata via structured
// extraction and merges it into shared state, per spec.md §4.3's
// metadata_agent contract.
func MetadataAgent(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("metadata_agent", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		text := condenseForSummary(s.RawMarkdown, 50_000, 3000)

		var result metadataResult
		err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierHaiku, llm.DocumentAnalysisSystem,
			"Extract bibliographic metadata (title, authors, date, publisher, ISBN, "+
				"whether it has multiple authors, and a chapter-to-author map if applicable) "+
				"from the following document:\n\n"+text, &result, llm.StructuredOptions{})
		if err != nil {
			return s, fmt.Errorf("metadata_agent: %w", err)
		}
		s.Metadata = Metadata{
			Title:          result.Title,
			Authors:        result.Authors,
			Date:           result.Date,
			Publisher:      result.Publisher,
			ISBN:           result.ISBN,
			IsMultiAuthor:  result.IsMultiAuthor,
			ChapterAuthors: result.ChapterAuthors,
		}
		return s, nil
	})
}

// FanOutSummaryAndMetadata runs SummaryAgent and MetadataAgent
// concurrently, each against the same input state, merging their
// independent outputs, matching spec.md §4.3's `fan_out{ summary_agent,
// metadata_agent }` node.
func FanOutSummaryAndMetadata(deps Deps) flow.Node[*DocumentState] {
	return flow.NewParallel("fan_out_summary_metadata",
		func(ctx context.Context, original *DocumentState, outputs []*DocumentState) (*DocumentState, error) {
			for _, out := range outputs {
				if out.ShortSummary != "" {
					original.ShortSummary = out.ShortSummary
				}
				if out.Metadata.Title != "" || len(out.Metadata.Authors) > 0 {
					original.Metadata = out.Metadata
				}
			}
			return original, nil
		},
		SummaryAgent(deps), MetadataAgent(deps),
	)
}

// SaveShortSummary creates the L1 record from ShortSummary, embedding
// it, per spec.md §4.3's save_short_summary contract.
func SaveShortSummary(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("save_short_summary", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		if err := persistDualSummary(ctx, deps, s, record.LevelShort, s.ShortSummary, s.ShortSummaryOrig, time.Now()); err != nil {
			return s, fmt.Errorf("save_short_summary: %w", err)
		}
		return s, nil
	})
}

// UpdateBibItem writes the extracted metadata onto the bibliographic
// item and transitions its tag from "pending" to "processed", per
// spec.md §4.3's update_bib_item contract.
func UpdateBibItem(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("update_bib_item", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		update := &store.BibItem{
			Fields: map[string]string{
				"abstract":  s.ShortSummary,
				"title":     s.Metadata.Title,
				"date":      s.Metadata.Date,
				"publisher": s.Metadata.Publisher,
				"ISBN":      s.Metadata.ISBN,
			},
			Creators: creatorsFromAuthors(s.Metadata.Authors),
			Tags:     []string{"processed"},
		}
		if err := deps.Bib.Update(ctx, s.BibKey, update); err != nil {
			return s, fmt.Errorf("update_bib_item: %w", err)
		}
		return s, nil
	})
}

func creatorsFromAuthors(authors []string) []store.BibCreator {
	creators := make([]store.BibCreator, 0, len(authors))
	for _, a := range authors {
		first, last := splitName(a)
		creators = append(creators, store.BibCreator{CreatorType: "author", FirstName: first, LastName: last})
	}
	return creators
}

func splitName(name string) (first, last string) {
	idx := lastSpace(name)
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}

func condenseForSummary(text string, threshold, pageChars int) string {
	if len(text) <= threshold {
		return text
	}
	first := text[:pageChars]
	last := text[len(text)-pageChars:]
	return first + "\n[...]\n" + last
}
