// Package reembed regenerates the vectors of a user's stored chunks, for use
// after the embedding model changes.
//
// Chunks are read in batches, embedded with the configured model and written
// back only once every batch succeeded. When the new model produces vectors
// of a different size the collection is emptied and rebuilt.
package reembed
