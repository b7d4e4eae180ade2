package ingest

import (
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/store"
)

// Deps bundles every backend and gateway the ingestion graph's nodes
// close over. One Deps is built per process (or per test) and reused
// across documents.
type Deps struct {
	URLs       URLService
	Bib        store.BibSystem
	Main       *store.MainStore
	Vector     store.VectorIndex
	Embedder   llm.Embedder
	Completion llm.Client

	// MaxChunkRunes bounds embed_long's chunking, and SummaryCondenseChars
	// is the >50k-char threshold past which summary_agent's input is
	// condensed to first_n_pages + "[...]" + last_n_pages.
	MaxChunkRunes       int
	SummaryCondenseChars int
	SummaryPageChars     int
}

// withDefaults fills in spec.md §4.3's literal constants where Deps
// leaves them zero.
func (d Deps) withDefaults() Deps {
	if d.MaxChunkRunes <= 0 {
		d.MaxChunkRunes = 8000
	}
	if d.SummaryCondenseChars <= 0 {
		d.SummaryCondenseChars = 50_000
	}
	if d.SummaryPageChars <= 0 {
		d.SummaryPageChars = 3000
	}
	return d
}
