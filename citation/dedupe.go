package citation

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// headerLinePattern matches an ATX markdown heading line, capturing its
// level markers and text.
var headerLinePattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// DuplicateHeaderSimilarityThreshold is the content-body similarity ratio
// above which a repeated heading's whole section is considered a full
// duplicate rather than a merely-repeated title, mirroring
// duplicate_handling.py's remove_duplicate_headers threshold.
const DuplicateHeaderSimilarityThreshold = 0.5

// DuplicateSectionSimilarityThreshold is the ratio above which two
// sections (not just their headers) are flagged as duplicates by
// detect_duplicate_sections.
const DuplicateSectionSimilarityThreshold = 0.7

// HeaderOccurrence records one line where a given heading text appears.
type HeaderOccurrence struct {
	Text string
	Line int
}

// DuplicateHeader is a heading text that recurs more than once in a
// document, with every line it occurs on.
type DuplicateHeader struct {
	Text        string
	Occurrences []HeaderOccurrence
}

// DetectDuplicateHeaders scans document for ATX headings whose text
// repeats, in first-seen order. Grounded on duplicate_handling.py's
// detect_duplicate_headers.
func DetectDuplicateHeaders(document string) []DuplicateHeader {
	lines := strings.Split(document, "\n")
	byText := map[string][]HeaderOccurrence{}
	var order []string

	for i, line := range lines {
		m := headerLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		if _, ok := byText[text]; !ok {
			order = append(order, text)
		}
		byText[text] = append(byText[text], HeaderOccurrence{Text: text, Line: i})
	}

	var dups []DuplicateHeader
	for _, text := range order {
		occ := byText[text]
		if len(occ) > 1 {
			dups = append(dups, DuplicateHeader{Text: text, Occurrences: occ})
		}
	}
	return dups
}

// SimilarityRatio computes Python difflib's SequenceMatcher(None, a,
// b).ratio() equivalent: go-difflib's matcher operates over []string
// tokens rather than raw strings, so both inputs are split into
// single-character tokens first.
func SimilarityRatio(a, b string) float64 {
	matcher := difflib.NewMatcher(splitChars(a), splitChars(b))
	return matcher.Ratio()
}

func splitChars(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

// sectionBody returns the lines between a heading at headerLine
// (exclusive) and the next heading of any level (exclusive), or the end
// of the document.
func sectionBody(lines []string, headerLine int) string {
	end := len(lines)
	for i := headerLine + 1; i < len(lines); i++ {
		if headerLinePattern.MatchString(lines[i]) {
			end = i
			break
		}
	}
	return strings.Join(lines[headerLine+1:end], "\n")
}

// RemoveDuplicateHeaders resolves every DuplicateHeader found in
// document: for each repeated heading, later occurrences are compared
// against the first by body-content similarity. A near-identical body
// (ratio > DuplicateHeaderSimilarityThreshold) means the whole later
// section is dropped; otherwise only the repeated heading line itself is
// dropped, folding its distinct body into the first section. Processes
// duplicates in reverse line order so earlier removals don't shift the
// line numbers of ones still pending. Grounded on
// duplicate_handling.py's remove_duplicate_headers.
func RemoveDuplicateHeaders(document string) string {
	dups := DetectDuplicateHeaders(document)
	if len(dups) == 0 {
		return document
	}

	type removal struct {
		startLine int // inclusive
		endLine   int // exclusive
	}
	var removals []removal

	lines := strings.Split(document, "\n")
	for _, dup := range dups {
		firstBody := sectionBody(lines, dup.Occurrences[0].Line)
		for _, occ := range dup.Occurrences[1:] {
			body := sectionBody(lines, occ.Line)
			ratio := SimilarityRatio(firstBody, body)

			end := len(lines)
			for i := occ.Line + 1; i < len(lines); i++ {
				if headerLinePattern.MatchString(lines[i]) {
					end = i
					break
				}
			}

			if ratio > DuplicateHeaderSimilarityThreshold {
				removals = append(removals, removal{startLine: occ.Line, endLine: end})
			} else {
				removals = append(removals, removal{startLine: occ.Line, endLine: occ.Line + 1})
			}
		}
	}

	// Reverse line order: sort removals descending by startLine.
	for i := 0; i < len(removals); i++ {
		for j := i + 1; j < len(removals); j++ {
			if removals[j].startLine > removals[i].startLine {
				removals[i], removals[j] = removals[j], removals[i]
			}
		}
	}

	for _, r := range removals {
		lines = append(lines[:r.startLine], lines[r.endLine:]...)
	}

	return strings.Join(lines, "\n")
}

// DuplicateSection pairs two section indices (0-based, in document
// scan order) whose bodies are near-identical.
type DuplicateSection struct {
	FirstIndex  int
	SecondIndex int
	Ratio       float64
}

// DetectDuplicateSections compares every section's first 500 runes
// against every other section's, flagging pairs above
// DuplicateSectionSimilarityThreshold. Grounded on
// duplicate_handling.py's detect_duplicate_sections, which truncates to
// the same length before comparing for speed on long documents.
func DetectDuplicateSections(sectionBodies []string) []DuplicateSection {
	truncated := make([]string, len(sectionBodies))
	for i, body := range sectionBodies {
		r := []rune(body)
		if len(r) > 500 {
			r = r[:500]
		}
		truncated[i] = string(r)
	}

	var dups []DuplicateSection
	for i := 0; i < len(truncated); i++ {
		for j := i + 1; j < len(truncated); j++ {
			ratio := SimilarityRatio(truncated[i], truncated[j])
			if ratio > DuplicateSectionSimilarityThreshold {
				dups = append(dups, DuplicateSection{FirstIndex: i, SecondIndex: j, Ratio: ratio})
			}
		}
	}
	return dups
}
