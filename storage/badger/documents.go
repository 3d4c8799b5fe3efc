package badger

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/storage"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// CreateDocument registers a new document.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = core.DocumentUploaded
	}

	err := r.backend.retryConflicts(func() error {
		return r.backend.Store().Insert(doc.ID, doc)
	})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return storage.ErrDuplicateKey
	}
	return err
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	if err := r.backend.Store().Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// UpdateStatus writes the status fields of a document in one transaction.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, update core.StatusUpdate) error {
	store := r.backend.Store()
	return r.backend.retryConflicts(func() error {
		return r.backend.WithTx(func(tx *badger.Txn) error {
			var doc core.Document
			if err := store.TxGet(tx, id, &doc); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return storage.ErrNotFound
				}
				return err
			}

			doc.Status = update.Status
			doc.LastError = update.LastError
			doc.Degraded = update.Degraded
			doc.FailedChunks = update.FailedChunks
			doc.ChunkCount = update.ChunkCount
			doc.UpdatedAt = time.Now().UTC()

			if err := store.TxUpdate(tx, id, &doc); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
	})
}

// ListDocuments returns every document owned by userID, oldest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context, userID string) ([]*core.Document, error) {
	var docs []*core.Document
	if err := r.backend.Store().Find(&docs, badgerhold.Where("UserID").Eq(userID)); err != nil {
		return nil, err
	}
	slices.SortFunc(docs, func(a, b *core.Document) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return docs, nil
}
