package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DaveCBeck/thala-sub002/chunk"
	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/record"
)

func unmarshalStructuredResult(raw json.RawMessage, out any) error {
	return json.Unmarshal(raw, out)
}

// ChapterSummaryFanOutBound is the concurrency bound for the outer
// chapter_summarization_subgraph step when batch dispatch isn't used.
const ChapterSummaryFanOutBound = 4

// ChapterBatchThreshold is the chapter count at or above which the
// subgraph prefers batch dispatch over bounded concurrent fan-out.
const ChapterBatchThreshold = 5

// MaxChapterChars is the size past which a chapter is recursively
// sub-chunked before summarization.
const MaxChapterChars = 600_000

type chapterDecision struct {
	HeadingIndex int    `json:"heading_index"`
	IsChapter    bool   `json:"is_chapter"`
	Author       string `json:"author,omitempty"`
}

type chapterDecisions struct {
	Decisions []chapterDecision `json:"decisions"`
}

// DetectChapters extracts markdown headings and decides which are
// chapter-level, per spec.md §4.3's detect_chapters contract and its
// three-tier fallback chain.
func DetectChapters(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("detect_chapters", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		if s.WordCount < 3000 {
			s.NeedsTenthSummary = false
			s.Chapters = nil
			return s, nil
		}

		headings := chunk.ParseHeadings(s.RawMarkdown)
		if len(headings) == 0 {
			s.Chapters = sizeBasedChapters(s.RawMarkdown)
			return s, nil
		}

		chapters, err := chaptersFromLLMDecision(ctx, deps, s.RawMarkdown, headings, s.Metadata.IsMultiAuthor)
		if err == nil && len(chapters) > 0 {
			s.Chapters = chapters
			return s, nil
		}

		chapters = chaptersFromDominantLevel(s.RawMarkdown, headings)
		if len(chapters) > 0 {
			s.Chapters = chapters
			return s, nil
		}

		s.Chapters = sizeBasedChapters(s.RawMarkdown)
		return s, nil
	})
}

func chaptersFromLLMDecision(ctx context.Context, deps Deps, markdown string, headings []chunk.Heading, multiAuthor bool) ([]Chapter, error) {
	var prompt strings.Builder
	prompt.WriteString("For each numbered heading below, decide whether it marks the start of a " +
		"chapter (as opposed to a front-matter or sub-section heading).")
	if multiAuthor {
		prompt.WriteString(" This work has multiple authors: also name the chapter's author when evident.")
	}
	prompt.WriteString("\n\n")
	for i, h := range headings {
		fmt.Fprintf(&prompt, "%d. (level %d) %s\n", i, h.Level, h.Text)
	}

	var result chapterDecisions
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierHaiku, llm.DocumentAnalysisSystem, prompt.String(), &result, llm.StructuredOptions{})
	if err != nil {
		return nil, err
	}

	var chapterHeadings []chunk.Heading
	authorByIndex := map[int]string{}
	for _, d := range result.Decisions {
		if d.IsChapter && d.HeadingIndex >= 0 && d.HeadingIndex < len(headings) {
			chapterHeadings = append(chapterHeadings, headings[d.HeadingIndex])
			if d.Author != "" {
				authorByIndex[len(chapterHeadings)-1] = d.Author
			}
		}
	}
	if len(chapterHeadings) == 0 {
		return nil, nil
	}

	sections := chunk.SectionsFromHeadings(markdown, chapterHeadings)
	chapters := make([]Chapter, len(sections))
	for i, sec := range sections {
		chapters[i] = Chapter{Title: sec.Heading.Text, Author: authorByIndex[i], Content: sec.Content, Position: i}
	}
	return chapters, nil
}

func chaptersFromDominantLevel(markdown string, headings []chunk.Heading) []Chapter {
	counts := chunk.HeadingLevelCounts(headings)
	bestLevel := 0
	for level := 1; level <= 6; level++ {
		if counts[level] >= 2 {
			bestLevel = level
			break
		}
	}
	if bestLevel == 0 {
		return nil
	}
	atLevel := chunk.HeadingsAtLevel(headings, bestLevel)
	sections := chunk.SectionsFromHeadings(markdown, atLevel)
	chapters := make([]Chapter, len(sections))
	for i, sec := range sections {
		chapters[i] = Chapter{Title: sec.Heading.Text, Content: sec.Content, Position: i}
	}
	return chapters
}

func sizeBasedChapters(markdown string) []Chapter {
	pieces := chunk.WordBoundaryChunk(markdown, chunk.WordChunkSize, chunk.WordChunkOverlap)
	chapters := make([]Chapter, len(pieces))
	for i, p := range pieces {
		chapters[i] = Chapter{Title: fmt.Sprintf("Part %d", i+1), Content: p, Position: i}
	}
	return chapters
}

type chapterSummaryResult struct {
	Summary string `json:"summary"`
}

// ChapterSummarizationSubgraph summarizes each chapter to ~10% of its
// word count, map-reduce style. Oversized chapters are recursively
// sub-chunked and their sub-summaries concatenated; the outer fan-out
// uses bounded concurrency below ChapterBatchThreshold chapters and
// prefers batch dispatch at or above it, except a chapter whose token
// estimate exceeds the tier's safe limit, which runs alone on the
// large-context tier — matching spec.md §4.3's
// chapter_summarization_subgraph contract.
func ChapterSummarizationSubgraph(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("chapter_summarization_subgraph", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		if len(s.Chapters) == 0 {
			return s, nil
		}

		var summarized []Chapter
		var err error
		if len(s.Chapters) >= ChapterBatchThreshold {
			summarized, err = summarizeChaptersBatch(ctx, deps, s.Chapters)
		} else {
			summarized, err = summarizeChaptersConcurrent(ctx, deps, s.Chapters)
		}
		if err != nil {
			return s, fmt.Errorf("chapter_summarization_subgraph: %w", err)
		}

		s.Chapters = summarized
		aggregate := aggregateChapterSummaries(summarized)

		if s.isNonEnglish() {
			s.TenthSummaryOrig = aggregate
			translated, err := translateToEnglish(ctx, deps, aggregate, s.LanguageCode)
			if err != nil {
				return s, fmt.Errorf("chapter_summarization_subgraph: translate: %w", err)
			}
			s.TenthSummary = translated
			return s, nil
		}
		s.TenthSummary = aggregate
		return s, nil
	})
}

func summarizeChaptersConcurrent(ctx context.Context, deps Deps, chapters []Chapter) ([]Chapter, error) {
	return flow.FanOut(ctx, ChapterSummaryFanOutBound, chapters, func(ctx context.Context, c Chapter) (Chapter, error) {
		return summarizeOneChapter(ctx, deps, c)
	})
}

func summarizeChaptersBatch(ctx context.Context, deps Deps, chapters []Chapter) ([]Chapter, error) {
	out := make([]Chapter, len(chapters))
	var batched []int
	var requests []llm.StructuredRequest
	for i, c := range chapters {
		out[i] = c
		if estimated, err := llm.EstimateTokens(c.Content); err == nil && estimated > llm.TierHaiku.SafeLimit() {
			summarized, err := summarizeOneChapter(ctx, deps, c)
			if err != nil {
				return nil, fmt.Errorf("chapter %q: %w", c.Title, err)
			}
			out[i] = summarized
			continue
		}
		batched = append(batched, i)
		requests = append(requests, llm.StructuredRequest{ID: fmt.Sprintf("%d", i), Prompt: chapterSummaryPrompt(c)})
	}

	results := llm.GetStructuredOutputBatch(ctx, deps.Completion, llm.TierHaiku, llm.DocumentAnalysisSystem, requests,
		func() any { return &chapterSummaryResult{} }, true, llm.StructuredOptions{})

	for j, i := range batched {
		c := chapters[i]
		if results[j].Err != nil {
			summarized, err := summarizeOneChapter(ctx, deps, c)
			if err != nil {
				return nil, fmt.Errorf("chapter %q: %w", c.Title, err)
			}
			out[i] = summarized
			continue
		}
		var r chapterSummaryResult
		if err := unmarshalStructuredResult(results[j].Value, &r); err != nil {
			return nil, fmt.Errorf("chapter %q: %w", c.Title, err)
		}
		out[i].Summary = r.Summary
	}
	return out, nil
}

func summarizeOneChapter(ctx context.Context, deps Deps, c Chapter) (Chapter, error) {
	tier := llm.TierHaiku
	if estimated, err := llm.EstimateTokens(c.Content); err == nil && estimated > tier.SafeLimit() {
		tier = llm.TierSonnet1M
	}

	if len(c.Content) > MaxChapterChars {
		return summarizeChapterBySubChunks(ctx, deps, c, tier)
	}

	var result chapterSummaryResult
	err := llm.GetStructuredOutput(ctx, deps.Completion, tier, llm.DocumentAnalysisSystem, chapterSummaryPrompt(c), &result, llm.StructuredOptions{})
	if err != nil {
		return c, err
	}
	c.Summary = result.Summary
	return c, nil
}

func summarizeChapterBySubChunks(ctx context.Context, deps Deps, c Chapter, tier llm.Tier) (Chapter, error) {
	windows := chunk.CharWindowChunk(c.Content, chunk.CharWindowSize, chunk.CharWindowOverlap)
	subSummaries, err := flow.FanOut(ctx, ChapterSummaryFanOutBound, windows, func(ctx context.Context, window string) (string, error) {
		var result chapterSummaryResult
		err := llm.GetStructuredOutput(ctx, deps.Completion, tier, llm.DocumentAnalysisSystem,
			chapterSummaryPrompt(Chapter{Title: c.Title, Content: window}), &result, llm.StructuredOptions{})
		return result.Summary, err
	})
	if err != nil {
		return c, err
	}
	c.Summary = strings.Join(subSummaries, "\n\n")
	return c, nil
}

func chapterSummaryPrompt(c Chapter) string {
	targetWords := countWords(c.Content) / 10
	if targetWords < 20 {
		targetWords = 20
	}
	return fmt.Sprintf("Summarize the following chapter, titled %q, to about %d words "+
		"(roughly 10%% of its length):\n\n%s", c.Title, targetWords, c.Content)
}

func aggregateChapterSummaries(chapters []Chapter) string {
	var sb strings.Builder
	for _, c := range chapters {
		sb.WriteString("## ")
		sb.WriteString(c.Title)
		if c.Author != "" {
			sb.WriteString(" (")
			sb.WriteString(c.Author)
			sb.WriteString(")")
		}
		sb.WriteString("\n\n")
		sb.WriteString(c.Summary)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// SaveTenthSummary creates the L2 record from TenthSummary, embedding
// it, per spec.md §4.3's save_tenth_summary contract.
func SaveTenthSummary(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("save_tenth_summary", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		if s.TenthSummary == "" {
			return s, nil
		}
		if err := persistDualSummary(ctx, deps, s, record.LevelTenth, s.TenthSummary, s.TenthSummaryOrig, time.Now()); err != nil {
			return s, fmt.Errorf("save_tenth_summary: %w", err)
		}
		return s, nil
	})
}
