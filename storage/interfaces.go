package storage

import (
	"context"
	"time"

	"github.com/poiesic/docvec/core"
)

// DocumentRepository stores document metadata.
// Implementations must be thread-safe and support concurrent access.
type DocumentRepository interface {
	// CreateDocument registers a new document.
	// Returns ErrDuplicateKey if a document with the same ID exists.
	CreateDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// UpdateStatus writes the status fields of a document and nothing else.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateStatus(ctx context.Context, id string, update core.StatusUpdate) error

	// ListDocuments returns every document owned by userID, oldest first.
	ListDocuments(ctx context.Context, userID string) ([]*core.Document, error)
}

// JobRepository stores scheduler jobs keyed by document ID.
// Callers serialize read-modify-write sequences; individual calls are atomic.
type JobRepository interface {
	// GetJob retrieves the job for a document.
	// Returns ErrNotFound if the document has never been enqueued.
	GetJob(ctx context.Context, documentID string) (*core.Job, error)

	// SaveJob inserts or replaces a job and stamps UpdatedAt.
	SaveJob(ctx context.Context, job *core.Job) error

	// FindJobs returns jobs in any of the given states.
	FindJobs(ctx context.Context, states ...core.JobState) ([]*core.Job, error)

	// NextSeq returns a strictly increasing enqueue sequence number.
	NextSeq() (uint64, error)

	// Close releases the sequence.
	Close() error
}

// RecordFilter narrows record lookups within one collection.
// Empty fields match everything.
type RecordFilter struct {
	SessionID  string
	DocumentID string
}

// VectorRepository persists collections and their vector records.
// Every method is scoped to a single collection.
type VectorRepository interface {
	// EnsureCollection creates the collection if it does not exist.
	// Returns the collection and whether it was created by this call.
	EnsureCollection(ctx context.Context, name, ownerID string) (*core.Collection, bool, error)

	// ListCollections returns every known collection.
	ListCollections(ctx context.Context) ([]*core.Collection, error)

	// UpsertRecords writes records into a collection in a single transaction.
	// Either every record is written or none is.
	UpsertRecords(ctx context.Context, collection string, records []*core.VectorRecord) error

	// FindRecords returns the records of a collection matching filter.
	FindRecords(ctx context.Context, collection string, filter RecordFilter) ([]*core.VectorRecord, error)

	// DeleteRecords removes matching records and returns the deleted records.
	DeleteRecords(ctx context.Context, collection string, filter RecordFilter) ([]*core.VectorRecord, error)
}

// CachedVector is a vector read back from a VectorCache.
type CachedVector struct {
	Vector    []float32
	ExpiresAt time.Time // Zero when the entry never expires
}

// VectorCache persists embeddings with a time-to-live.
type VectorCache interface {
	// GetVector returns the cached vector for key, if present and unexpired.
	GetVector(ctx context.Context, key string) (CachedVector, bool, error)

	// SetVector stores vector under key for ttl.
	SetVector(ctx context.Context, key string, vector []float32, ttl time.Duration) error
}
