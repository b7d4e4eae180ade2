package ingest

import (
	"context"

	"github.com/DaveCBeck/thala-sub002/flow"
	"go.uber.org/zap"
)

// NeedsTenthSummaryRoute implements the needs_tenth_summary? branch
// decision: detect_chapters may have cleared NeedsTenthSummary (the
// under-3000-word short-circuit), and even when chapters were produced
// a chapter_summarization_subgraph run only makes sense if there are
// any.
func NeedsTenthSummaryRoute(ctx context.Context, s *DocumentState) (string, error) {
	if s.NeedsTenthSummary && len(s.Chapters) > 0 {
		return "summarize", nil
	}
	return "skip", nil
}

// BuildGraph wires every node constructor into the document-processing
// graph described by spec.md §4.3: resolve_input, create_stub, the
// is_markdown? branch, update_store_with_content, language detection
// and content/metadata validation (both supplemented nodes inserted
// post-extraction), the summary/metadata fan-out, save_short_summary,
// update_bib_item, detect_chapters, the needs_tenth_summary? branch
// around chapter_summarization_subgraph + save_tenth_summary, and
// finalize.
func BuildGraph(deps Deps, logger *zap.Logger) *flow.Graph[*DocumentState] {
	tenthSummary := flow.NewGraph[*DocumentState]().
		Then(ChapterSummarizationSubgraph(deps)).
		Then(SaveTenthSummary(deps))

	skipTenthSummary := flow.NewFunc("skip_tenth_summary", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		return s, nil
	})

	return flow.NewGraph[*DocumentState]().
		Then(ResolveInput(deps)).
		Then(CreateStub(deps)).
		Then(flow.NewBranch("is_markdown", IsMarkdownRoute, map[string]flow.Node[*DocumentState]{
			"markdown": ChunkMarkdown(deps),
			"extract":  ExtractViaPDFService(deps),
		})).
		Then(UpdateStoreWithContent(deps)).
		Then(DetectLanguage(deps)).
		Then(ValidateContentMetadata(deps)).
		Then(FanOutSummaryAndMetadata(deps)).
		Then(SaveShortSummary(deps)).
		Then(UpdateBibItem(deps)).
		Then(DetectChapters(deps)).
		Then(flow.NewBranch("needs_tenth_summary", NeedsTenthSummaryRoute, map[string]flow.Node[*DocumentState]{
			"summarize": tenthSummary,
			"skip":      skipTenthSummary,
		})).
		Then(Finalize(logger))
}
