// Package ingestion runs documents through the processing pipeline.
//
// A Pipeline executes one job at a time on behalf of a worker:
//   - Extracting text from the uploaded file
//   - Chunking the text with overlap
//   - Embedding every chunk through the embedding client
//   - Storing the embedded chunks in the owner's collection
//
// Progress events are published as each stage starts. Cancellation requested
// through the scheduler is observed between stages.
package ingestion
