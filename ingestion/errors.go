package ingestion

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrExtractorsRequired is returned when an extractor registry is not provided.
	ErrExtractorsRequired = errors.New("extractor registry required")

	// ErrChunkerRequired is returned when a chunker is not provided.
	ErrChunkerRequired = errors.New("chunker required")

	// ErrEmbeddingClientRequired is returned when an embedding client is not provided.
	ErrEmbeddingClientRequired = errors.New("embedding client required")

	// ErrVectorStoreRequired is returned when a vector store manager is not provided.
	ErrVectorStoreRequired = errors.New("vector store manager required")

	// ErrDocumentUnavailable is returned when the job's document record cannot be loaded.
	ErrDocumentUnavailable = errors.New("document unavailable")
)
