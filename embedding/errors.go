package embedding

import "errors"

var (
	// ErrEmbedderRequired is returned when a client is created without a primary backend.
	ErrEmbedderRequired = errors.New("primary embedder required")

	// ErrModelRequired is returned when EmbedBatch is called without a model.
	ErrModelRequired = errors.New("embedding model required")

	// ErrResultMismatch is returned when a backend answers with the wrong number of vectors.
	ErrResultMismatch = errors.New("embedding result mismatch")
)
