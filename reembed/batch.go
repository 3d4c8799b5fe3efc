package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/embedding"
)

// BatchProcessor replaces the vectors of a batch of records.
type BatchProcessor struct {
	client *embedding.Client
	model  string
}

// NewBatchProcessor creates a new batch processor. The client does its own
// retries and fallbacks, so a failure here is final for the batch.
func NewBatchProcessor(client *embedding.Client, model string) *BatchProcessor {
	return &BatchProcessor{client: client, model: model}
}

// Process embeds the text of each record and overwrites its vector in place.
// Nothing is changed unless every record was embedded.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Text
	}

	result, err := bp.client.EmbedBatch(ctx, texts, bp.model, nil)
	if err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("%w: %d of %d chunks failed", ErrIncompleteBatch, len(result.Failures), len(records))
	}
	if len(result.Vectors) != len(records) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(records), len(result.Vectors))
	}

	for i := range records {
		records[i].Vector = result.Vectors[i]
	}
	return nil
}
