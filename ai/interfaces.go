package ai

import "context"

// Embedder generates vector embeddings from text using an inference backend.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// Name identifies the backend in logs and error messages.
	Name() string

	// EmbedTexts generates vector embeddings for texts using the given model.
	// The returned slice contains embeddings in the same order as the input texts.
	// Any transport failure, non-2xx response or timeout is returned as an error;
	// callers treat all of them as transient.
	EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error)
}
