// Package citation provides the citation-key extraction, verification,
// programmatic edit application, and duplicate-header detection
// utilities shared by the review-loop subgraphs and the citation
// post-processor. Grounded on
// supervision/utils/citation_validation/{parsers,validator,zotero}.py
// and supervision/utils/duplicate_handling.py (original_source).
package citation

import (
	"regexp"
)

// keyPattern matches a `[@KEY]` citation marker. Keys are the
// bibliographic system's 8-char alphanumeric keys in normal operation,
// but loop5's fallback-key generation and corpus DOI-derived keys can
// run longer, so the pattern accepts any run of alphanumerics,
// underscores, and hyphens rather than hard-coding length 8.
var keyPattern = regexp.MustCompile(`\[@([A-Za-z0-9_-]+)\]`)

// ExtractKeys returns every distinct citation key referenced in text, in
// first-occurrence order.
func ExtractKeys(text string) []string {
	matches := keyPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		key := m[1]
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// ExtractKeySet is ExtractKeys as a set, for callers that only need
// membership tests (corpus-key unions, invalid-key sets).
func ExtractKeySet(text string) map[string]bool {
	keys := ExtractKeys(text)
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
