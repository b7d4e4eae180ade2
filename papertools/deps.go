// Package papertools implements the two paper-search tools bound into
// loop-4/5 agents (search_papers, get_paper_content) and the web
// fact-check client those same agents carry alongside them, per
// spec.md §4.6 and §6.
package papertools

import (
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/store"
)

// Deps bundles the backends search_papers and get_paper_content close
// over. One Deps is built per process and shared by every tool
// binding, mirroring ingest.Deps.
type Deps struct {
	Main       *store.MainStore
	Embedder   llm.Embedder
	Completion llm.Client
	FactCheck  *FactCheckClient

	// EmbeddingModel names the model Embedder calls out to, stamped onto
	// any L2 derivative generated on the fly.
	EmbeddingModel string

	// MaxChunkRunes bounds on-the-fly L2 chunking for get_paper_content's
	// oversized-L0 fallback.
	MaxChunkRunes int
}

func (d Deps) withDefaults() Deps {
	if d.MaxChunkRunes <= 0 {
		d.MaxChunkRunes = 8000
	}
	return d
}
