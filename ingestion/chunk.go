package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/docvec/chunk"
	"github.com/poiesic/docvec/core"
)

// chunkStage splits the extracted text.
type chunkStage struct {
	chunker   *chunk.Chunker
	maxChunks int
	logger    *slog.Logger
}

var _ stage = (*chunkStage)(nil)

func (s *chunkStage) name() core.Stage { return core.StageChunking }

func (s *chunkStage) percent() int { return percentChunking }

func (s *chunkStage) execute(ctx context.Context, r *run) error {
	r.chunks = s.chunker.Split(r.doc.ID, r.text)
	if s.maxChunks > 0 && len(r.chunks) > s.maxChunks {
		return fmt.Errorf("%w: %d chunks exceeds the limit of %d", core.ErrChunkingFailure, len(r.chunks), s.maxChunks)
	}
	if len(r.chunks) == 0 {
		s.logger.Info("document has no text", "document", r.doc.ID)
	}
	return nil
}
