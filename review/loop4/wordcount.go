package loop4

import (
	"context"
	"strings"

	"github.com/DaveCBeck/thala-sub002/review"
)

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// policyBounds returns the [min, max] word-count range a section's
// edit must fall within, per spec.md §4.4.4's per-type policy.
// absolute indicates the bounds are a fixed range (abstract) rather
// than derived from the section's original word count.
func policyBounds(sectionType review.SectionType, originalWords int) (minWords, maxWords int, absolute bool) {
	switch sectionType {
	case review.SectionAbstract:
		return 200, 300, true
	case review.SectionIntroduction, review.SectionConclusion:
		return withinPercent(originalWords, 0.25)
	default:
		return contentBounds(originalWords)
	}
}

func contentBounds(originalWords int) (int, int, bool) {
	switch {
	case originalWords < 50:
		return 0, 1 << 30, false
	case originalWords <= 150:
		return withinPercent(originalWords, 0.5)
	case originalWords <= 300:
		return withinPercent(originalWords, 0.3)
	default:
		return withinPercent(originalWords, 0.2)
	}
}

func withinPercent(originalWords int, percent float64) (int, int, bool) {
	delta := int(float64(originalWords) * percent)
	min := originalWords - delta
	if min < 0 {
		min = 0
	}
	return min, originalWords + delta, false
}

func withinPolicy(sectionType review.SectionType, originalWords, candidateWords int) bool {
	min, max, _ := policyBounds(sectionType, originalWords)
	return candidateWords >= min && candidateWords <= max
}

// withinExtendedPolicy widens policyBounds by 5 percentage points
// (of the original word count for percent-based policies, of the
// range's maximum, at least 1 word, for the abstract's absolute range), per spec.md
// §4.4.4's "extended tolerance (+5 percentage points)".
func withinExtendedPolicy(sectionType review.SectionType, originalWords, candidateWords int) bool {
	min, max, absolute := policyBounds(sectionType, originalWords)
	if absolute {
		extra := int(float64(max) * 0.05)
		if extra < 1 {
			extra = 1
		}
		return candidateWords >= min-extra && candidateWords <= max+extra
	}
	extra := int(float64(originalWords) * 0.05)
	return candidateWords >= min-extra && candidateWords <= max+extra
}

// enforceWordCountPolicy applies spec.md §4.4.4's "one retry, then
// either accept at an extended tolerance ... or revert to original"
// contract.
func enforceWordCountPolicy(ctx context.Context, deps Deps, section review.Section, edit SectionEdit, retry func(context.Context) (SectionEdit, error)) (SectionEdit, error) {
	originalWords := wordCount(section.Content)
	if withinPolicy(section.Type, originalWords, wordCount(edit.Text)) {
		return edit, nil
	}

	candidate := edit
	if retried, err := retry(ctx); err == nil {
		if withinPolicy(section.Type, originalWords, wordCount(retried.Text)) {
			return retried, nil
		}
		candidate = retried
	}

	if withinExtendedPolicy(section.Type, originalWords, wordCount(candidate.Text)) {
		candidate.Confidence *= 0.85
		candidate.Notes = append(candidate.Notes, "Accepted at extended word-count tolerance")
		return candidate, nil
	}

	return SectionEdit{
		SectionID:  section.ID,
		Text:       section.Content,
		Confidence: 1.0,
		Notes:      []string{"Reverted to original: word-count policy violated"},
	}, nil
}
