package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/embedding"
)

// embedStage embeds every chunk. Partial failures are recorded on the run.
type embedStage struct {
	client *embedding.Client
	model  string
	logger *slog.Logger
}

var _ stage = (*embedStage)(nil)

func (s *embedStage) name() core.Stage { return core.StageEmbedding }

func (s *embedStage) percent() int { return percentEmbeddingFrom }

func (s *embedStage) execute(ctx context.Context, r *run) error {
	if len(r.chunks) == 0 {
		return nil
	}

	texts := make([]string, len(r.chunks))
	for i, c := range r.chunks {
		texts[i] = c.Text
	}

	res, err := s.client.EmbedBatch(ctx, texts, s.model, func(done, total int) {
		pct := percentEmbeddingFrom + (percentEmbeddingTo-percentEmbeddingFrom)*done/total
		r.report(core.StageEmbedding, pct, fmt.Sprintf("embedded %d of %d batches", done, total))
	})
	if err != nil {
		return err
	}
	if res.AllFailed() {
		return fmt.Errorf("%w: %d chunks", core.ErrEmbeddingTotalFailure, len(texts))
	}

	r.vectors = res.Vectors
	r.failed = res.Failures
	if len(r.failed) > 0 {
		s.logger.Warn("some chunks failed to embed", "document", r.doc.ID,
			"failed", len(r.failed), "chunks", len(r.chunks))
	}
	s.logger.Debug("embedded chunks", "document", r.doc.ID, "chunks", len(texts), "cache_hits", res.CacheHits)
	return nil
}
