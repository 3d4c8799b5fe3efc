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

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/vectorstore"
)

const (
	// DefaultBatchSize is the default number of chunks handed to each batch
	DefaultBatchSize = 100
)

// RecordIterator walks a user's vector records in batches.
type RecordIterator struct {
	vectors   *vectorstore.Manager
	batchSize int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records per batch; values below 1 use DefaultBatchSize
func NewRecordIterator(vectors *vectorstore.Manager, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RecordIterator{
		vectors:   vectors,
		batchSize: batchSize,
	}
}

// ForEach calls fn with each batch of the user's records.
// Iteration stops on the first error from fn.
// Context cancellation is checked between batches.
func (it *RecordIterator) ForEach(ctx context.Context, userID string, fn func([]*core.VectorRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	records, err := it.vectors.Records(ctx, userID, "")
	if err != nil {
		return err
	}

	for i := 0; i < len(records); i += it.batchSize {
		end := min(i+it.batchSize, len(records))
		if err := fn(records[i:end]); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
