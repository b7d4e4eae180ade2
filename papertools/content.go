package papertools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DaveCBeck/thala-sub002/chunk"
	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/google/uuid"
)

// DefaultMaxChars and HardMaxChars bound get_paper_content's max_chars
// parameter.
const (
	DefaultMaxChars = 8000
	HardMaxChars    = 20_000
)

// OnTheFlyL2Threshold is the L0 char count above which get_paper_content
// generates and persists an L2 derivative on the fly rather than return
// the raw source, per spec.md §4.6.
const OnTheFlyL2Threshold = 150_000

// PaperContent is get_paper_content's result.
type PaperContent struct {
	BibKey    string `json:"bib_key"`
	Content   string `json:"content"`
	Level     string `json:"level"` // "L2" or "L0"
	Truncated bool   `json:"truncated"`
}

// GetPaperContent resolves identifier (a bib_key or a DOI) to a paper
// in the corpus, preferring its L2 derivative; failing that it falls
// back to L0, generating and persisting an L2 on the fly first if L0
// exceeds OnTheFlyL2Threshold. The result is truncated to maxChars.
// Grounded on spec.md §4.6's get_paper_content contract.
func GetPaperContent(ctx context.Context, deps Deps, identifier string, maxChars int) (*PaperContent, error) {
	deps = deps.withDefaults()
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if maxChars > HardMaxChars {
		maxChars = HardMaxChars
	}

	original, err := resolveOriginal(ctx, deps, identifier)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, fmt.Errorf("papertools: get_paper_content: no paper found for %q", identifier)
	}

	tenth, err := deps.Main.GetBySourceID(ctx, original.ID, record.LevelTenth)
	if err != nil {
		return nil, fmt.Errorf("papertools: get_paper_content: lookup L2 for %s: %w", original.BibKey, err)
	}
	if tenth != nil && tenth.Content != "" {
		return truncateResult(original.BibKey, tenth.Content, "L2", maxChars), nil
	}

	if len(original.Content) > OnTheFlyL2Threshold {
		generated, err := generateAndPersistL2(ctx, deps, original)
		if err != nil {
			return nil, fmt.Errorf("papertools: get_paper_content: on-the-fly L2 for %s: %w", original.BibKey, err)
		}
		return truncateResult(original.BibKey, generated, "L2", maxChars), nil
	}

	return truncateResult(original.BibKey, original.Content, "L0", maxChars), nil
}

// resolveOriginal finds the L0 record matching identifier, trying it
// as a bib_key first and, failing that, as a DOI against the record's
// metadata.
func resolveOriginal(ctx context.Context, deps Deps, identifier string) (*record.Record, error) {
	level := record.LevelOriginal

	if record.ValidBibKey(identifier) {
		hits, err := deps.Main.Search(ctx, map[string]any{
			"term": map[string]any{"bib_key": identifier},
		}, 1, &level)
		if err != nil {
			return nil, fmt.Errorf("papertools: resolve bib_key %q: %w", identifier, err)
		}
		if len(hits) > 0 {
			return hits[0], nil
		}
	}

	hits, err := deps.Main.Search(ctx, map[string]any{
		"term": map[string]any{"metadata.doi": identifier},
	}, 1, &level)
	if err != nil {
		return nil, fmt.Errorf("papertools: resolve DOI %q: %w", identifier, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return hits[0], nil
}

func truncateResult(bibKey, content, level string, maxChars int) *PaperContent {
	runes := []rune(content)
	if len(runes) <= maxChars {
		return &PaperContent{BibKey: bibKey, Content: content, Level: level, Truncated: false}
	}
	return &PaperContent{BibKey: bibKey, Content: string(runes[:maxChars]), Level: level, Truncated: true}
}

type l2ChunkSummary struct {
	Summary string `json:"summary"`
}

// generateAndPersistL2 runs a small chunk-and-summarize pipeline over
// an oversized L0 record's content and persists the result as an L2
// derivative, mirroring ingest's chapter_summarization_subgraph at a
// single-document scale rather than per-chapter.
func generateAndPersistL2(ctx context.Context, deps Deps, original *record.Record) (string, error) {
	pieces := chunk.WordBoundaryChunk(original.Content, chunk.WordChunkSize, chunk.WordChunkOverlap)
	if len(pieces) == 0 {
		pieces = []string{original.Content}
	}

	summaries, err := flow.FanOut(ctx, 4, pieces, func(ctx context.Context, piece string) (string, error) {
		var result l2ChunkSummary
		prompt := fmt.Sprintf("Summarize the following excerpt of a research paper to about 10%% of its "+
			"length, preserving key claims, methods, and findings:\n\n%s", piece)
		err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierHaiku, llm.DocumentAnalysisSystem, prompt, &result, llm.StructuredOptions{})
		return result.Summary, err
	})
	if err != nil {
		return "", err
	}

	combined := strings.TrimSpace(strings.Join(summaries, "\n\n"))
	now := time.Now()
	derivative := record.New(now, original.SourceType, record.LevelTenth, combined)
	derivative.SourceIDs = []uuid.UUID{original.ID}
	derivative.BibKey = original.BibKey
	derivative.LanguageCode = original.LanguageCode

	embedding, err := deps.Embedder.EmbedLong(ctx, combined, deps.MaxChunkRunes)
	if err != nil {
		return "", fmt.Errorf("embed generated L2: %w", err)
	}
	derivative.Embedding = embedding
	derivative.EmbeddingModel = deps.EmbeddingModel

	if err := deps.Main.Add(ctx, derivative); err != nil {
		return "", fmt.Errorf("persist generated L2: %w", err)
	}
	return combined, nil
}
