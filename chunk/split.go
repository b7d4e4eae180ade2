package chunk

import "strings"

// WordChunkSize and WordChunkOverlap are detect_chapters' size-based
// fallback when a document has no usable headings: ~30k-word
// overlapping chunks with a 500-word overlap.
const (
	WordChunkSize    = 30_000
	WordChunkOverlap = 500
)

// CharWindowSize and CharWindowOverlap bound chapter_summarization_
// subgraph's recursive sub-chunking of any chapter whose text exceeds
// ~600k characters: 500k-char windows with a 2000-char overlap.
const (
	CharWindowSize    = 500_000
	CharWindowOverlap = 2_000
)

// WordBoundaryChunk splits text into approximately maxWords-word
// pieces with overlapWords of repeated context between consecutive
// pieces. It first tries to break on paragraph boundaries (blank
// lines); a paragraph that alone exceeds maxWords is broken on plain
// word boundaries instead, matching detect_chapters' documented
// fallback order.
func WordBoundaryChunk(text string, maxWords, overlapWords int) []string {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var units []string
	for _, p := range paragraphs {
		if countWords(p) > maxWords {
			units = append(units, splitWords(p, maxWords)...)
			continue
		}
		units = append(units, p)
	}

	return packUnits(units, maxWords, overlapWords, "\n\n")
}

// CharWindowChunk splits text into approximately size-char windows
// with overlap characters of repeated context, used to sub-chunk a
// single oversized chapter before summarization.
func CharWindowChunk(text string, size, overlap int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitWords(text string, maxWords int) []string {
	words := strings.Fields(text)
	var out []string
	for i := 0; i < len(words); i += maxWords {
		end := i + maxWords
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// packUnits greedily accumulates paragraph/word units into chunks of
// roughly maxWords, carrying the last overlapWords words of a finished
// chunk forward as the start of the next one.
func packUnits(units []string, maxWords, overlapWords int, sep string) []string {
	var chunks []string
	var current strings.Builder
	currentWords := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	for _, u := range units {
		uWords := countWords(u)
		if currentWords > 0 && currentWords+uWords > maxWords {
			flush()
			overlap := lastWords(current.String(), overlapWords)
			current.Reset()
			current.WriteString(overlap)
			currentWords = countWords(overlap)
			if currentWords > 0 {
				current.WriteString(sep)
			}
		}
		current.WriteString(u)
		current.WriteString(sep)
		currentWords += uWords
	}
	flush()
	return chunks
}

func lastWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}
