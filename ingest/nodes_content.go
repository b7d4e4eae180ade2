package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/DaveCBeck/thala-sub002/chunk"
	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/google/uuid"
)

// ExtractViaPDFService fetches a URL source through the external
// URL/HTML/PDF-to-markdown collaborator and finishes resolve_input's
// counters on the result, matching spec.md §4.3's
// `extract_via_pdf_service` branch.
func ExtractViaPDFService(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("extract_via_pdf_service", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		result, err := deps.URLs.GetURL(ctx, s.Source, FetchOptions{Quality: PDFQualityBalanced})
		if err != nil {
			return s, fmt.Errorf("extract_via_pdf_service: fetch %s: %w", s.Source, err)
		}
		s.RawMarkdown = result.Content
		finishResolution(s)
		return s, nil
	})
}

// ChunkMarkdown finishes resolve_input's counters for a raw-markdown
// source (no external fetch needed), matching spec.md §4.3's
// `chunk_markdown` branch.
func ChunkMarkdown(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("chunk_markdown", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		finishResolution(s)
		return s, nil
	})
}

func finishResolution(s *DocumentState) {
	s.WordCount = countWords(s.RawMarkdown)
	s.PageCount = estimatePageCount(s.RawMarkdown)
	s.ChunkCount = estimateChunkCount(s.RawMarkdown)
	s.NeedsTenthSummary = s.WordCount > 2000
}

// UpdateStoreWithContent replaces the placeholder L0 with the resolved
// markdown, embeds the full text, and writes one chunk-level vector
// record per heading-delimited chunk, per spec.md §4.3's
// `update_store_with_content` contract.
func UpdateStoreWithContent(deps Deps) flow.Node[*DocumentState] {
	deps = deps.withDefaults()
	return flow.NewFunc("update_store_with_content", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		now := time.Now()

		embedding, err := deps.Embedder.EmbedLong(ctx, s.RawMarkdown, deps.MaxChunkRunes)
		if err != nil {
			return s, fmt.Errorf("update_store_with_content: embed full text: %w", err)
		}

		updates := map[string]any{
			"content":         s.RawMarkdown,
			"embedding":       embedding,
			"embedding_model": "full-text",
		}
		if err := deps.Main.Update(ctx, now, s.L0ID(), record.LevelOriginal, updates); err != nil {
			return s, fmt.Errorf("update_store_with_content: replace placeholder: %w", err)
		}
		s.L0.Content = s.RawMarkdown
		s.L0.Embedding = embedding

		if err := writeChunkRecords(ctx, deps, s, now); err != nil {
			return s, fmt.Errorf("update_store_with_content: chunk records: %w", err)
		}
		return s, nil
	})
}

func writeChunkRecords(ctx context.Context, deps Deps, s *DocumentState, now time.Time) error {
	headings := chunk.ParseHeadings(s.RawMarkdown)
	if len(headings) == 0 {
		return nil
	}
	sections := chunk.SectionsFromHeadings(s.RawMarkdown, headings)

	for _, sec := range sections {
		if sec.Content == "" {
			continue
		}
		vec, err := deps.Embedder.EmbedLong(ctx, sec.Content, deps.MaxChunkRunes)
		if err != nil {
			return fmt.Errorf("embed chunk %q: %w", sec.Heading.Text, err)
		}

		chunkRecord := record.New(now, record.SourceInternal, record.LevelOriginal, sec.Content)
		chunkRecord.SourceIDs = []uuid.UUID{s.L0ID()}
		chunkRecord.Embedding = vec
		chunkRecord.Metadata["parent_id"] = s.L0ID().String()
		chunkRecord.Metadata["heading"] = sec.Heading.Text
		chunkRecord.Metadata["level"] = sec.Heading.Level
		chunkRecord.Metadata["chunk_type"] = "heading_section"

		if err := chunkRecord.Validate(); err != nil {
			return fmt.Errorf("chunk record for %q: %w", sec.Heading.Text, err)
		}
		if err := deps.Vector.Upsert(ctx, chunkRecord); err != nil {
			return fmt.Errorf("upsert chunk record for %q: %w", sec.Heading.Text, err)
		}
	}
	return nil
}
