package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/extract"
)

// extractStage reads text from the document's source file.
type extractStage struct {
	registry *extract.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

var _ stage = (*extractStage)(nil)

func (s *extractStage) name() core.Stage { return core.StageExtracting }

func (s *extractStage) percent() int { return percentExtracting }

// execute tries the primary extractor, then the secondary once if there is one.
func (s *extractStage) execute(ctx context.Context, r *run) error {
	strategy, err := s.registry.For(r.doc.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrExtractionFailure, err)
	}

	res, err := s.attempt(ctx, strategy.Primary, r.doc.SourcePath)
	if err != nil && strategy.Secondary != nil && ctx.Err() == nil {
		s.logger.Warn("primary extractor failed, trying secondary",
			"document", r.doc.ID, "primary", strategy.Primary.Name(),
			"secondary", strategy.Secondary.Name(), "err", err)
		res, err = s.attempt(ctx, strategy.Secondary, r.doc.SourcePath)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrExtractionFailure, err)
	}

	r.text = res.Text
	r.pages = res.Pages
	s.logger.Debug("extracted text", "document", r.doc.ID, "runes", len([]rune(res.Text)), "pages", res.Pages)
	return nil
}

func (s *extractStage) attempt(ctx context.Context, e extract.Extractor, path string) (*extract.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := e.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name(), err)
	}
	return res, nil
}
