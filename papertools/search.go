package papertools

import (
	"context"
	"fmt"
	"sort"

	"github.com/DaveCBeck/thala-sub002/record"
	"golang.org/x/sync/errgroup"
)

// RRFConstant is the reciprocal-rank-fusion smoothing constant k in
// 1/(k+rank), per spec.md §4.6's search_papers contract.
const RRFConstant = 60

// MinRelevance is the minimum normalized fused score a result must
// clear to be returned, preventing citation drift onto barely-related
// papers.
const MinRelevance = 0.5

// DefaultSearchLimit and MaxSearchLimit bound search_papers' limit
// parameter.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 20
)

// PaperResult is one fused, deduplicated search_papers hit.
type PaperResult struct {
	BibKey  string  `json:"bib_key"`
	Title   string  `json:"title,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// SearchPapers runs semantic (vector kNN) and keyword (text-index
// match) search over the paper corpus in parallel, fuses the two
// ranked lists by reciprocal-rank fusion, deduplicates on bib_key,
// keeps only results above MinRelevance of the top fused score, and
// caps the result at limit. Grounded on spec.md §4.6's search_papers
// contract; the corpus is addressed at record.LevelShort, the tier
// every externally-sourced paper's summary is indexed at.
func SearchPapers(ctx context.Context, deps Deps, query string, limit int) ([]PaperResult, error) {
	deps = deps.withDefaults()
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	fanOut := limit * 2
	level := record.LevelShort

	embedding, err := deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("papertools: search_papers embed query: %w", err)
	}

	var semantic, keyword []*record.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if semantic, err = deps.Main.KNNSearch(gctx, embedding, fanOut, &level); err != nil {
			return fmt.Errorf("papertools: search_papers semantic search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if keyword, err = deps.Main.Search(gctx, map[string]any{
			"match": map[string]any{"content": query},
		}, fanOut, &level); err != nil {
			return fmt.Errorf("papertools: search_papers keyword search: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuseRRF(semantic, keyword)
	return topResults(fused, limit), nil
}

type fusedHit struct {
	record *record.Record
	score  float64
}

// fuseRRF combines ranked result lists by reciprocal-rank fusion,
// deduplicating on bib_key: 1/(RRFConstant+rank) is added per list a
// key appears in, rank counted from 1 in each list's own order.
func fuseRRF(lists ...[]*record.Record) map[string]*fusedHit {
	fused := map[string]*fusedHit{}
	for _, list := range lists {
		for i, r := range list {
			if r == nil || r.BibKey == "" {
				continue
			}
			score := 1.0 / float64(RRFConstant+i+1)
			if hit, ok := fused[r.BibKey]; ok {
				hit.score += score
			} else {
				fused[r.BibKey] = &fusedHit{record: r, score: score}
			}
		}
	}
	return fused
}

// topResults normalizes fused scores against the highest-scoring hit,
// filters out anything below MinRelevance, sorts descending, and caps
// at limit.
func topResults(fused map[string]*fusedHit, limit int) []PaperResult {
	if len(fused) == 0 {
		return nil
	}

	maxScore := 0.0
	for _, hit := range fused {
		if hit.score > maxScore {
			maxScore = hit.score
		}
	}
	if maxScore == 0 {
		return nil
	}

	results := make([]PaperResult, 0, len(fused))
	for key, hit := range fused {
		normalized := hit.score / maxScore
		if normalized < MinRelevance {
			continue
		}
		results = append(results, PaperResult{
			BibKey:  key,
			Title:   titleOf(hit.record),
			Snippet: snippetOf(hit.record.Content, 400),
			Score:   normalized,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].BibKey < results[j].BibKey
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func titleOf(r *record.Record) string {
	if r.Metadata == nil {
		return ""
	}
	if t, ok := r.Metadata["title"].(string); ok {
		return t
	}
	return ""
}

func snippetOf(content string, maxRunes int) string {
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return string(runes[:maxRunes]) + "..."
}
