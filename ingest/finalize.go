package ingest

import (
	"context"
	"time"

	"github.com/DaveCBeck/thala-sub002/flow"
	"go.uber.org/zap"
)

// Finalize writes completion bookkeeping and logs summary counts, per
// spec.md §4.3's finalize contract.
func Finalize(logger *zap.Logger) flow.Node[*DocumentState] {
	return flow.NewFunc("finalize", func(ctx context.Context, s *DocumentState) (*DocumentState, error) {
		s.Status = "completed"
		logger.Info("document ingestion finalized",
			zap.String("bib_key", s.BibKey),
			zap.Int("word_count", s.WordCount),
			zap.Int("chapter_count", len(s.Chapters)),
			zap.Bool("needs_tenth_summary", s.NeedsTenthSummary),
			zap.String("validation_warning", s.ValidationWarning),
			zap.Duration("elapsed", time.Since(s.StartedAt)),
		)
		return s, nil
	})
}
