package citation

import (
	"fmt"
	"strings"
)

// Edit is a find-string-based document edit, per spec.md §4.4.6: find
// must occur exactly once in the target document; applying it replaces
// that one occurrence.
type Edit struct {
	Find     string
	Replace  string
	EditType string // e.g. "fact_correction", "citation_fix", "clarity"
}

// ValidationResult partitions a batch of edits into the ones that can be
// applied and the ones that cannot, with a reason per invalid index.
type ValidationResult struct {
	Valid   []Edit
	Invalid []Edit
	Errors  map[int]string
}

// ValidateEdits checks that every edit's Find string occurs exactly once
// in document: zero occurrences and ambiguous (>1) occurrences are both
// invalid, matching spec.md §4.4.6's "find must occur exactly once"
// contract and result_processing.py's validate_edits_node.
func ValidateEdits(document string, edits []Edit) ValidationResult {
	result := ValidationResult{Errors: map[int]string{}}
	for i, edit := range edits {
		count := strings.Count(document, edit.Find)
		switch {
		case count == 0:
			result.Errors[i] = "find string not found in document"
			result.Invalid = append(result.Invalid, edit)
		case count > 1:
			result.Errors[i] = fmt.Sprintf("find string is ambiguous: occurs %d times", count)
			result.Invalid = append(result.Invalid, edit)
		default:
			result.Valid = append(result.Valid, edit)
		}
	}
	return result
}

// ApplyEdits applies every edit to document in order, replacing exactly
// one occurrence of each Find string. Callers are expected to have
// already run ValidateEdits and passed only the Valid slice: an edit
// whose Find string no longer matches (e.g. a prior edit altered the
// same span) is silently skipped rather than failing the whole batch,
// matching apply_edits_node's best-effort behavior.
func ApplyEdits(document string, edits []Edit) string {
	for _, edit := range edits {
		document = strings.Replace(document, edit.Find, edit.Replace, 1)
	}
	return document
}
