package vectorstore

import (
	"context"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/storage"
)

// InsertStats reports a collection's record count around an insert.
type InsertStats struct {
	Before int
	After  int
}

// Backend is a collection-scoped vector index.
// No method ever reads or writes outside the named collection.
type Backend interface {
	// EnsureCollection creates the collection if needed and reports whether it did.
	EnsureCollection(ctx context.Context, name, ownerID string) (bool, error)

	// Insert upserts records by ID, all or nothing.
	Insert(ctx context.Context, collection string, records []*core.VectorRecord) (InsertStats, error)

	// Search returns up to k records nearest to vector, best first.
	Search(ctx context.Context, collection string, vector []float32, k int, filter storage.RecordFilter) ([]core.SearchResult, error)

	// Delete removes matching records and returns how many were removed.
	Delete(ctx context.Context, collection string, filter storage.RecordFilter) (int, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Records returns copies of the matching records.
	Records(ctx context.Context, collection string, filter storage.RecordFilter) ([]*core.VectorRecord, error)
}
