package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/record"
	"github.com/google/uuid"
)

type languageResult struct {
	LanguageCode string `json:"language_code"`
}

// DetectLanguage runs on the resolved L0 content and records its
// language. Supplements spec.md §4.3's "Language handling" note, which
// names the node's existence and downstream effect (dual-language
// summaries) without specifying how detection itself works.
func DetectLanguage(deps Deps) flow.Node[*DocumentState] {
	return flow.NewFunc("detect_language", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		sample := s.RawMarkdown
		if len(sample) > 2000 {
			sample = sample[:2000]
		}

		var result languageResult
		err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierHaiku, llm.DocumentAnalysisSystem,
			"Identify the ISO 639-1 language code of the following text. Respond with just the code:\n\n"+sample,
			&result, llm.StructuredOptions{})
		if err != nil {
			return s, fmt.Errorf("detect_language: %w", err)
		}
		s.LanguageCode = result.LanguageCode
		return s, nil
	})
}

type translationResult struct {
	Translated string `json:"translated"`
}

func translateToEnglish(ctx context.Context, deps Deps, text, sourceLang string) (string, error) {
	var result translationResult
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierHaiku, llm.DocumentAnalysisSystem,
		fmt.Sprintf("Translate the following %s text to English, preserving meaning and terminology:\n\n%s", sourceLang, text),
		&result, llm.StructuredOptions{})
	if err != nil {
		return "", err
	}
	return result.Translated, nil
}

// isNonEnglish reports whether detected content needs a separate
// English variant alongside the original-language one.
func (s *DocumentState) isNonEnglish() bool {
	return s.LanguageCode != "" && s.LanguageCode != "en"
}

// persistDualSummary writes one record for englishText (the canonical,
// English-language variant every downstream consumer expects) and, when
// the document is in a non-English language, a second record carrying
// originalText tagged with the source language, both linked back to L0.
// Matches spec.md §4.3's "both variants are stored side-by-side
// (*_original, *_english)" requirement.
func persistDualSummary(ctx context.Context, deps Deps, s *DocumentState, level record.CompressionLevel, englishText, originalText string, now time.Time) error {
	englishVec, err := deps.Embedder.EmbedLong(ctx, englishText, deps.withDefaults().MaxChunkRunes)
	if err != nil {
		return fmt.Errorf("embed english variant: %w", err)
	}
	english := record.New(now, record.SourceInternal, level, englishText)
	english.SourceIDs = []uuid.UUID{s.L0ID()}
	english.BibKey = s.BibKey
	english.Embedding = englishVec
	english.LanguageCode = "en"
	english.Metadata["variant"] = "english"
	if level == record.LevelTenth {
		english.Metadata["chapter_count"] = len(s.Chapters)
	}
	if err := deps.Main.Add(ctx, english); err != nil {
		return fmt.Errorf("add english variant: %w", err)
	}

	if !s.isNonEnglish() || originalText == "" {
		return nil
	}

	originalVec, err := deps.Embedder.EmbedLong(ctx, originalText, deps.withDefaults().MaxChunkRunes)
	if err != nil {
		return fmt.Errorf("embed original-language variant: %w", err)
	}
	original := record.New(now, record.SourceInternal, level, originalText)
	original.SourceIDs = []uuid.UUID{s.L0ID()}
	original.BibKey = s.BibKey
	original.Embedding = originalVec
	original.LanguageCode = s.LanguageCode
	original.Metadata["variant"] = "original"
	if level == record.LevelTenth {
		original.Metadata["chapter_count"] = len(s.Chapters)
	}
	return deps.Main.Add(ctx, original)
}
