package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/google/uuid"
)

// ResolveInput classifies the source into {URL, raw markdown}. It does
// not fetch: the is_markdown branch after create_stub routes a raw
// markdown source straight to ChunkMarkdown and a URL source through
// ExtractViaPDFService, matching spec.md §4.3's graph shape.
func ResolveInput(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("resolve_input", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		if !s.IsURL {
			s.IsURL = strings.HasPrefix(s.Source, "http://") || strings.HasPrefix(s.Source, "https://")
		}
		if !s.IsURL {
			s.RawMarkdown = s.Source
		}
		s.StagingPath = stagingPath(s.Source)
		return s, nil
	})
}

// IsMarkdownRoute implements the is_markdown? branch decision.
func IsMarkdownRoute(ctx context.Context, s *DocumentState) (string, error) {
	if s.IsURL {
		return "extract", nil
	}
	return "markdown", nil
}

// CreateStub writes a "pending"-tagged bibliographic item and a
// placeholder L0 record before any expensive processing, so a partial
// failure still leaves a traceable stub.
func CreateStub(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("create_stub", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		key, err := deps.Bib.Add(ctx, &store.BibItem{
			ItemType: "document",
			Fields:   map[string]string{"title": stubTitle(s)},
			Tags:     []string{"pending"},
		})
		if err != nil {
			return s, fmt.Errorf("create_stub: add bib item: %w", err)
		}
		s.BibKey = key

		now := time.Now()
		placeholder := record.New(now, record.SourceExternal, record.LevelOriginal, "")
		placeholder.BibKey = key
		if err := deps.Main.Add(ctx, placeholder); err != nil {
			return s, fmt.Errorf("create_stub: add placeholder L0: %w", err)
		}
		s.L0 = placeholder
		s.Status = "processing"
		return s, nil
	})
}

func stagingPath(source string) string {
	return "/var/lib/thala/staging/" + uuid.New().String() + ".md"
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func estimatePageCount(text string) int {
	const charsPerPage = 3000
	if len(text) == 0 {
		return 0
	}
	pages := len(text) / charsPerPage
	if len(text)%charsPerPage != 0 {
		pages++
	}
	return pages
}

func estimateChunkCount(text string) int {
	const wordsPerChunk = 500
	words := countWords(text)
	if words == 0 {
		return 0
	}
	count := words / wordsPerChunk
	if words%wordsPerChunk != 0 {
		count++
	}
	return count
}

func stubTitle(s *DocumentState) string {
	if s.IsURL {
		return s.Source
	}
	if len(s.Source) > 60 {
		return s.Source[:60] + "..."
	}
	return s.Source
}
