package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeadings_SkipsFencedCode(t *testing.T) {
	md := "# Title\n\nsome text\n\n```\n# not a heading\n```\n\n## Section\n"
	headings := ParseHeadings(md)
	require.Len(t, headings, 2)
	require.Equal(t, "Title", headings[0].Text)
	require.Equal(t, 1, headings[0].Level)
	require.Equal(t, "Section", headings[1].Text)
	require.Equal(t, 2, headings[1].Level)
}

func TestHeadingLevelCounts(t *testing.T) {
	md := "# A\n## B\n## C\n### D\n"
	counts := HeadingLevelCounts(ParseHeadings(md))
	require.Equal(t, 1, counts[1])
	require.Equal(t, 2, counts[2])
	require.Equal(t, 1, counts[3])
}

func TestSectionsFromHeadings(t *testing.T) {
	md := "# Chapter One\ntext one\nmore text\n# Chapter Two\ntext two\n"
	headings := ParseHeadings(md)
	sections := SectionsFromHeadings(md, headings)
	require.Len(t, sections, 2)
	require.Equal(t, "Chapter One", sections[0].Heading.Text)
	require.Contains(t, sections[0].Content, "text one")
	require.NotContains(t, sections[0].Content, "text two")
	require.Equal(t, "Chapter Two", sections[1].Heading.Text)
}

func TestParseHeadings_NoHeadings(t *testing.T) {
	require.Empty(t, ParseHeadings("just a paragraph with no headings at all"))
}
