// Package ingest is the document-processing graph (C5): a flow.Graph
// over a shared DocumentState that resolves a source, stubs a
// bibliographic item, extracts and chunks its content, fans summary and
// metadata extraction out in parallel, detects chapter structure, and
// produces dual-compression-level summaries with a map-reduce over
// chapters. Grounded on Tangerg-lynx's ai/agent/workflow node/graph
// patterns, generalized from chat-turn state to document-ingestion
// state over package flow.
package ingest

import (
	"time"

	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/google/uuid"
)

// Chapter is one detected chapter: a heading, its author (for
// multi-author works), and the slice of the document it covers.
type Chapter struct {
	Title    string
	Author   string
	Content  string
	Summary  string
	Position int
}

// Metadata carries the bibliographic fields metadata_agent extracts and
// update_bib_item persists.
type Metadata struct {
	Title            string
	Authors          []string
	Date             string
	Publisher        string
	ISBN             string
	IsMultiAuthor    bool
	ChapterAuthors   map[string]string
	LanguageCode     string
}

// DocumentState is the value threaded through every node in the
// ingestion graph.
type DocumentState struct {
	// Input
	Source string // a URL or raw markdown, depending on IsURL
	IsURL  bool

	// resolve_input outputs
	RawMarkdown       string
	StagingPath       string
	WordCount         int
	PageCount         int
	ChunkCount        int
	NeedsTenthSummary bool

	// create_stub / update_bib_item outputs
	BibKey string

	// store outputs
	L0 *record.Record

	// fan_out outputs
	ShortSummary string
	Metadata     Metadata

	// detect_chapters / chapter_summarization_subgraph outputs
	Chapters     []Chapter
	TenthSummary string

	// language handling
	LanguageCode      string
	ShortSummaryOrig  string
	TenthSummaryOrig  string

	// validation
	ValidationWarning string

	// bookkeeping
	Status    string
	StartedAt time.Time
	Errors    []string
}

func (s *DocumentState) AddError(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err.Error())
	}
}

// L0ID is a convenience accessor used by nodes that only need the id,
// not the full record.
func (s *DocumentState) L0ID() uuid.UUID {
	if s.L0 == nil {
		return uuid.Nil
	}
	return s.L0.ID
}
