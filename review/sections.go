package review

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/DaveCBeck/thala-sub002/chunk"
	"github.com/DaveCBeck/thala-sub002/llm"
)

// SectionMaxTokens is the per-section size cap Loop 4 and Loop 5 split
// the review at, per spec.md §4.4.4.
const SectionMaxTokens = 5000

// SectionType classifies a section for Loop 4's word-count policy.
type SectionType string

const (
	SectionAbstract     SectionType = "abstract"
	SectionIntroduction SectionType = "introduction"
	SectionMethodology  SectionType = "methodology"
	SectionConclusion   SectionType = "conclusion"
	SectionContent      SectionType = "content"
)

// Section is one editable unit of the review: a heading-delimited
// region (or, for headingless documents, a size-based chunk), with a
// stable id unique within the split.
type Section struct {
	ID           string
	Type         SectionType
	HeadingText  string
	HeadingLevel int
	StartLine    int
	Content      string
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(text string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "section"
	}
	return slug
}

// SplitSections breaks document into sections of at most SectionMaxTokens
// each, classifying each by heading text and level, and resolving id
// collisions with numeric suffixes. A heading-less document is split by
// size alone and every section classified as content. Grounded on
// section_splitting.py's split-then-classify shape, reused unchanged by
// loop4's editor and loop5's fact/reference passes.
func SplitSections(document string) []Section {
	headings := chunk.ParseHeadings(document)
	if len(headings) == 0 {
		return sizeBasedSections(document)
	}

	rawSections := chunk.SectionsFromHeadings(document, headings)
	var sections []Section
	used := map[string]int{}

	for i, rs := range rawSections {
		id := uniqueID(used, slugify(rs.Heading.Text))
		pieces := splitOversized(rs.Content)
		for pi, piece := range pieces {
			pieceID := id
			if pi > 0 {
				pieceID = uniqueID(used, id)
			}
			sections = append(sections, Section{
				ID:           pieceID,
				Type:         ClassifySection(rs.Heading.Text, rs.Heading.Level, i, len(rawSections)),
				HeadingText:  rs.Heading.Text,
				HeadingLevel: rs.Heading.Level,
				StartLine:    strings.Count(document[:rs.Heading.Start], "\n"),
				Content:      piece,
			})
		}
	}
	return sections
}

func uniqueID(used map[string]int, base string) string {
	n := used[base]
	used[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n+1)
}

// splitOversized breaks content into SectionMaxTokens-sized pieces when
// its estimated token count exceeds the cap; a tokenizer failure falls
// back to returning content whole rather than failing the split.
func splitOversized(content string) []string {
	tokens, err := llm.EstimateTokens(content)
	if err != nil || tokens <= SectionMaxTokens {
		return []string{content}
	}
	approxWordsPerPiece := (SectionMaxTokens * len(strings.Fields(content))) / tokens
	if approxWordsPerPiece < 50 {
		approxWordsPerPiece = 50
	}
	pieces := chunk.WordBoundaryChunk(content, approxWordsPerPiece, 0)
	if len(pieces) == 0 {
		return []string{content}
	}
	return pieces
}

func sizeBasedSections(document string) []Section {
	pieces := splitOversized(document)
	sections := make([]Section, len(pieces))
	for i, p := range pieces {
		sections[i] = Section{
			ID:      fmt.Sprintf("section-%d", i+1),
			Type:    SectionContent,
			Content: p,
		}
	}
	return sections
}

// ClassifySection assigns a SectionType from heading text and level,
// per spec.md §4.4.4's "classify each section as one of {abstract,
// introduction, methodology, conclusion, content} by id and heading
// level". The first top-level heading in a document defaults to
// abstract only when its text doesn't otherwise match, matching the
// common "unlabeled lead paragraph is the abstract" convention.
func ClassifySection(headingText string, headingLevel, position, total int) SectionType {
	lower := strings.ToLower(headingText)
	switch {
	case strings.Contains(lower, "abstract") || strings.Contains(lower, "summary") && position == 0:
		return SectionAbstract
	case strings.Contains(lower, "introduction") || strings.Contains(lower, "intro"):
		return SectionIntroduction
	case strings.Contains(lower, "method") || strings.Contains(lower, "approach") || strings.Contains(lower, "methodology"):
		return SectionMethodology
	case strings.Contains(lower, "conclusion") || strings.Contains(lower, "discussion") || strings.Contains(lower, "closing"):
		return SectionConclusion
	case headingLevel == 1 && position == 0:
		return SectionAbstract
	case headingLevel == 1 && position == total-1:
		return SectionConclusion
	default:
		return SectionContent
	}
}
