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

package core

import (
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidRecord indicates a VectorRecord failed validation.
	ErrInvalidRecord = errors.New("invalid vector record")

	// ErrEmptyDocumentID indicates the document ID is empty.
	ErrEmptyDocumentID = errors.New("document id cannot be empty")

	// ErrEmptyUserID indicates the owning user is missing.
	ErrEmptyUserID = errors.New("user id cannot be empty")

	// ErrEmptySourcePath indicates the document has nothing to extract from.
	ErrEmptySourcePath = errors.New("source path cannot be empty")

	// ErrEmptyVector indicates a record has no embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")
)

// Processing failure taxonomy
var (
	// ErrExtractionFailure indicates text could not be extracted by any strategy.
	ErrExtractionFailure = errors.New("extraction failed")

	// ErrChunkingFailure indicates the chunker rejected valid text. Never retried.
	ErrChunkingFailure = errors.New("chunking failed")

	// ErrEmbeddingTransient indicates an inference call failed and may succeed later.
	ErrEmbeddingTransient = errors.New("embedding request failed")

	// ErrEmbeddingTotalFailure indicates every chunk failed to embed.
	ErrEmbeddingTotalFailure = errors.New("all chunks failed to embed")

	// ErrStorageTransient indicates the vector store rejected an insert.
	ErrStorageTransient = errors.New("storage insert failed")

	// ErrCancelled indicates the job was cancelled by a caller.
	ErrCancelled = errors.New("cancelled")
)

// StageError ties a failure to the stage that produced it.
type StageError struct {
	Stage     Stage
	Err       error
	Retryable bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err for stage. Chunking failures and cancellations are never retryable.
func NewStageError(stage Stage, err error) *StageError {
	retryable := !errors.Is(err, ErrChunkingFailure) && !errors.Is(err, ErrCancelled)
	return &StageError{Stage: stage, Err: err, Retryable: retryable}
}

// IsRetryable reports whether the scheduler may run the job again after err.
// Errors that carry no stage information are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return !errors.Is(err, ErrCancelled) && !errors.Is(err, ErrChunkingFailure)
}
