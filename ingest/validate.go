package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/xerrors"
)

var isbnPattern = regexp.MustCompile(`\b(?:\d[- ]?){9}[\dXx]\b|\b(?:\d[- ]?){13}\b`)
var yearPattern = regexp.MustCompile(`\b(1[6-9]\d{2}|20\d{2})\b`)

type mismatchDecision struct {
	Mismatch bool   `json:"mismatch"`
	Reason   string `json:"reason"`
}

// ValidateContentMetadata runs a lightweight content/metadata
// consistency check post-extraction: heuristics first, then an
// LLM decision with a lenient bias, never aborting the pipeline. Per
// spec.md §4.3's "Validation" note.
func ValidateContentMetadata(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("validate_content_metadata", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		if ok, reason := heuristicMismatchCheck(s); ok {
			s.ValidationWarning = reason
			s.AddError(&xerrors.ContentMetadataMismatch{Reason: reason})
			return s, nil
		}
		if heuristicsConclusive(s) {
			return s, nil
		}

		decision, err := llmMismatchCheck(ctx, deps, s)
		if err != nil {
			// A failed heuristic follow-up is not itself a pipeline
			// failure: validation is advisory, never fatal.
			return s, nil
		}
		if decision.Mismatch {
			s.ValidationWarning = decision.Reason
			err := &xerrors.ContentMetadataMismatch{Reason: decision.Reason}
			s.AddError(err)
		}
		return s, nil
	})
}

// heuristicMismatchCheck returns (true, reason) only on clear
// contradicting evidence: an ISBN present in the metadata that never
// appears in the content. Author surnames missing from the content are
// treated as inconclusive, and publication years are not checked here.
func heuristicMismatchCheck(s *DocumentState) (bool, string) {
	if s.Metadata.ISBN != "" {
		normalizedISBN := normalizeDigits(s.Metadata.ISBN)
		found := false
		for _, candidate := range isbnPattern.FindAllString(s.RawMarkdown, -1) {
			if normalizeDigits(candidate) == normalizedISBN {
				found = true
				break
			}
		}
		if !found {
			return true, fmt.Sprintf("metadata ISBN %q does not appear in document content", s.Metadata.ISBN)
		}
	}
	for _, author := range s.Metadata.Authors {
		_, last := splitName(author)
		if last != "" && !strings.Contains(strings.ToLower(s.RawMarkdown), strings.ToLower(last)) {
			return false, "" // a missing surname alone is inconclusive, not a mismatch
		}
	}
	return false, ""
}

// normalizeDigits keeps only the digits and X check characters of an
// ISBN-like string, upper-cased, so differently punctuated ISBNs compare
// equal.
func normalizeDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' || r == 'X' || r == 'x' {
			sb.WriteRune(r)
		}
	}
	return strings.ToUpper(sb.String())
}

// heuristicsConclusive reports whether the heuristic pass found enough
// corroborating evidence to skip the LLM fallback entirely: some year
// mentioned in the content appears in the metadata date.
func heuristicsConclusive(s *DocumentState) bool {
	if s.Metadata.Date == "" {
		return false
	}
	years := yearPattern.FindAllString(s.RawMarkdown, -1)
	for _, y := range years {
		if strings.Contains(s.Metadata.Date, y) {
			return true
		}
	}
	return false
}

func llmMismatchCheck(ctx context.Context, deps Deps, s *DocumentState) (*mismatchDecision, error) {
	sample := s.RawMarkdown
	if len(sample) > 4000 {
		sample = sample[:4000]
	}
	var result mismatchDecision
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierHaiku, llm.DocumentAnalysisSystem,
		fmt.Sprintf("Given this extracted metadata: title=%q authors=%v date=%q publisher=%q isbn=%q, "+
			"does it clearly mismatch the following document content? Only say mismatch=true on clear, "+
			"unambiguous evidence; default to mismatch=false when uncertain.\n\n%s",
			s.Metadata.Title, s.Metadata.Authors, s.Metadata.Date, s.Metadata.Publisher, s.Metadata.ISBN, sample),
		&result, llm.StructuredOptions{})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
