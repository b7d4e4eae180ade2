package citepost

import (
	"fmt"
	"regexp"
	"strings"
)

var inlinePattern = regexp.MustCompile(`\[(\d+)\]`)

// referencePattern matches a references-section entry of the form
// "[N] Title: URL", per spec.md §4.5's rewrite rule.
var referencePattern = regexp.MustCompile(`(?m)^\[(\d+)\]\s+(.+?):\s*(\S+)\s*$`)

// Reference is one entry parsed out of the review's references section.
type Reference struct {
	Number int
	Title  string
	URL    string
}

// extractReferences finds every "[N] Title: URL" line in document.
func extractReferences(document string) []Reference {
	matches := referencePattern.FindAllStringSubmatch(document, -1)
	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		var number int
		fmt.Sscanf(m[1], "%d", &number)
		refs = append(refs, Reference{Number: number, Title: strings.TrimSpace(m[2]), URL: strings.TrimSpace(m[3])})
	}
	return refs
}

// rewriteCitations replaces every inline "[N]" with "[@KEY]" and every
// references-section "[N] Title: URL" line with "[@KEY] Title", using
// numberToKey built from the resolved {url -> key} map.
func rewriteCitations(document string, refs []Reference, numberToKey map[int]string) string {
	document = referencePattern.ReplaceAllStringFunc(document, func(line string) string {
		m := referencePattern.FindStringSubmatch(line)
		var number int
		fmt.Sscanf(m[1], "%d", &number)
		key, ok := numberToKey[number]
		if !ok {
			return line
		}
		return fmt.Sprintf("[@%s] %s", key, strings.TrimSpace(m[2]))
	})

	document = inlinePattern.ReplaceAllStringFunc(document, func(tok string) string {
		m := inlinePattern.FindStringSubmatch(tok)
		var number int
		fmt.Sscanf(m[1], "%d", &number)
		key, ok := numberToKey[number]
		if !ok {
			return tok
		}
		return fmt.Sprintf("[@%s]", key)
	})
	return document
}
