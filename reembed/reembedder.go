// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/embedding"
	"github.com/poiesic/docvec/vectorstore"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// Model is the embedding model to regenerate vectors with
	Model string

	// BatchSize is the number of chunks embedded per batch
	BatchSize int
}

// Reembedder regenerates the vectors of one user's collection.
// Nothing else may write to the collection while it runs.
type Reembedder struct {
	vectors   *vectorstore.Manager
	config    Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *RecordIterator
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(vectors *vectorstore.Manager, client *embedding.Client, config Config, progress io.Writer) (*Reembedder, error) {
	if config.Model == "" {
		return nil, ErrModelRequired
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Reembedder{
		vectors:   vectors,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(client, config.Model),
		iterator:  NewRecordIterator(vectors, config.BatchSize),
	}, nil
}

// Run re-embeds every chunk of userID's collection and returns how many were rewritten.
func (r *Reembedder) Run(ctx context.Context, userID string) (int, error) {
	start := time.Now()
	var (
		updated []*core.VectorRecord
		oldDims int
	)
	err := r.iterator.ForEach(ctx, userID, func(records []*core.VectorRecord) error {
		if oldDims == 0 {
			oldDims = len(records[0].Vector)
		}
		if err := r.processor.Process(ctx, records); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		updated = append(updated, records...)
		fmt.Fprintf(r.progress, "\rEmbedded %d chunks", len(updated))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(updated) == 0 {
		fmt.Fprintf(r.progress, "No chunks found for %s\n", userID)
		return 0, nil
	}
	fmt.Fprintln(r.progress)

	if newDims := len(updated[0].Vector); newDims != oldDims {
		fmt.Fprintf(r.progress, "Vector size changed from %d to %d, rebuilding collection\n", oldDims, newDims)
		if _, err := r.vectors.Reset(ctx, userID); err != nil {
			return 0, fmt.Errorf("failed to reset collection: %w", err)
		}
	}

	for i := 0; i < len(updated); i += r.config.BatchSize {
		end := min(i+r.config.BatchSize, len(updated))
		if _, err := r.vectors.Insert(ctx, userID, updated[i:end]); err != nil {
			return i, fmt.Errorf("failed to store chunks: %w", err)
		}
		fmt.Fprintf(r.progress, "\rStored %d/%d chunks (%.1f%%)", end, len(updated), float64(end)*100/float64(len(updated)))
	}
	fmt.Fprintln(r.progress)

	elapsed := time.Since(start)
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v\n", len(updated), elapsed.Round(time.Millisecond))
	return len(updated), nil
}
