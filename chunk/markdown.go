// Package chunk implements heading-aware markdown parsing and the
// word/char-boundary splitting used to break long documents into
// embeddable and summarizable pieces. Grounded on
// internal/memory/chunker.go (MycelicMemory-MycelicMemory)'s
// paragraph-then-fallback splitting strategy, generalized from
// character counts to word counts and heading structure.
package chunk

import (
	"regexp"
	"strings"
)

var headingPattern = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+?)[ \t]*$`)

// Heading is one markdown ATX heading with its position in the source
// text, used by detect_chapters to locate chapter boundaries.
type Heading struct {
	Level int
	Text  string
	Start int // byte offset of the '#' in the source
	End   int // byte offset just past the heading text, before the line's newline
}

// ParseHeadings returns every ATX heading (# through ######) in
// document order with byte positions, skipping headings that appear
// inside fenced code blocks.
func ParseHeadings(markdown string) []Heading {
	fences := fencedRanges(markdown)

	var headings []Heading
	for _, m := range headingPattern.FindAllStringSubmatchIndex(markdown, -1) {
		start, end := m[0], m[1]
		if inAnyRange(start, fences) {
			continue
		}
		level := m[3] - m[2]
		text := markdown[m[4]:m[5]]
		headings = append(headings, Heading{
			Level: level,
			Text:  strings.TrimSpace(text),
			Start: start,
			End:   end,
		})
	}
	return headings
}

// HeadingLevelCounts tallies how many headings occur at each level,
// used by the "highest level with >=2 occurrences" chapter-detection
// fallback.
func HeadingLevelCounts(headings []Heading) map[int]int {
	counts := make(map[int]int)
	for _, h := range headings {
		counts[h.Level]++
	}
	return counts
}

// HeadingsAtLevel filters to headings of exactly the given level, in
// document order.
func HeadingsAtLevel(headings []Heading, level int) []Heading {
	var out []Heading
	for _, h := range headings {
		if h.Level == level {
			out = append(out, h)
		}
	}
	return out
}

// Section is the text belonging to one heading, from just after the
// heading line to the start of the next heading in the set passed to
// SectionsFromHeadings (or end of document).
type Section struct {
	Heading Heading
	Content string
}

// SectionsFromHeadings slices markdown into one Section per heading in
// the given set, where each section runs until the next heading in the
// set (or document end). Headings must be in document order and drawn
// from the same source as markdown.
func SectionsFromHeadings(markdown string, headings []Heading) []Section {
	sections := make([]Section, 0, len(headings))
	for i, h := range headings {
		end := len(markdown)
		if i+1 < len(headings) {
			end = headings[i+1].Start
		}
		sections = append(sections, Section{
			Heading: h,
			Content: strings.TrimSpace(markdown[h.End:end]),
		})
	}
	return sections
}

func fencedRanges(markdown string) [][2]int {
	var ranges [][2]int
	lines := strings.Split(markdown, "\n")
	offset := 0
	fenceStart := -1
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			if fenceStart == -1 {
				fenceStart = offset
			} else {
				ranges = append(ranges, [2]int{fenceStart, offset + len(line)})
				fenceStart = -1
			}
		}
		offset += len(line) + 1
	}
	if fenceStart != -1 {
		ranges = append(ranges, [2]int{fenceStart, len(markdown)})
	}
	return ranges
}

func inAnyRange(pos int, ranges [][2]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}
