package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/storage"
	"github.com/timshannon/badgerhold/v4"
)

// VectorRepository implements storage.VectorRepository for BadgerDB.
type VectorRepository struct {
	backend *Backend
}

var _ storage.VectorRepository = (*VectorRepository)(nil)

// NewVectorRepository creates a new VectorRepository.
func NewVectorRepository(backend *Backend) *VectorRepository {
	return &VectorRepository{backend: backend}
}

// EnsureCollection creates the collection if it does not exist.
func (r *VectorRepository) EnsureCollection(ctx context.Context, name, ownerID string) (*core.Collection, bool, error) {
	var (
		coll    core.Collection
		created bool
	)
	err := r.backend.retryConflicts(func() error {
		created = false
		return r.backend.WithTx(func(tx *badger.Txn) error {
			return r.ensureCollectionTx(tx, name, ownerID, &coll, &created)
		}, true)
	})
	if err != nil {
		return nil, false, err
	}
	return &coll, created, nil
}

func (r *VectorRepository) ensureCollectionTx(tx *badger.Txn, name, ownerID string, coll *core.Collection, created *bool) error {
	store := r.backend.Store()
	err := store.TxGet(tx, name, coll)
	if err == nil {
		return nil
	}
	if !errors.Is(err, badgerhold.ErrNotFound) {
		return err
	}
	*coll = core.Collection{
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.TxInsert(tx, name, coll); err != nil {
		return err
	}
	*created = true
	return tx.Commit()
}

// ListCollections returns every known collection.
func (r *VectorRepository) ListCollections(ctx context.Context) ([]*core.Collection, error) {
	var colls []*core.Collection
	if err := r.backend.Store().Find(&colls, nil); err != nil {
		return nil, err
	}
	return colls, nil
}

// UpsertRecords writes all records in a single transaction.
func (r *VectorRepository) UpsertRecords(ctx context.Context, collection string, records []*core.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if err := core.ValidateRecord(rec); err != nil {
			return err
		}
	}

	store := r.backend.Store()
	return r.backend.retryConflicts(func() error {
		return r.backend.WithTx(func(tx *badger.Txn) error {
			for _, rec := range records {
				if err := ctx.Err(); err != nil {
					return err
				}
				rec.Collection = collection
				if err := store.TxUpsert(tx, makeRecordKey(collection, rec.ID), rec); err != nil {
					return fmt.Errorf("upserting record %s: %w", rec.ID, err)
				}
			}
			return tx.Commit()
		}, true)
	})
}

// FindRecords returns the records of a collection matching filter.
func (r *VectorRepository) FindRecords(ctx context.Context, collection string, filter storage.RecordFilter) ([]*core.VectorRecord, error) {
	var records []*core.VectorRecord
	if err := r.backend.Store().Find(&records, recordQuery(collection, filter)); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteRecords removes matching records in one transaction and returns them.
func (r *VectorRepository) DeleteRecords(ctx context.Context, collection string, filter storage.RecordFilter) ([]*core.VectorRecord, error) {
	store := r.backend.Store()
	var deleted []*core.VectorRecord
	err := r.backend.retryConflicts(func() error {
		return r.backend.WithTx(func(tx *badger.Txn) error {
			var records []*core.VectorRecord
			if err := store.TxFind(tx, &records, recordQuery(collection, filter)); err != nil {
				return err
			}
			for _, rec := range records {
				if err := store.TxDelete(tx, makeRecordKey(collection, rec.ID), core.VectorRecord{}); err != nil {
					return err
				}
			}
			deleted = records
			return tx.Commit()
		}, true)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func recordQuery(collection string, filter storage.RecordFilter) *badgerhold.Query {
	q := badgerhold.Where("Collection").Eq(collection).Index("Collection")
	if filter.SessionID != "" {
		q = q.And("SessionID").Eq(filter.SessionID)
	}
	if filter.DocumentID != "" {
		q = q.And("DocumentID").Eq(filter.DocumentID)
	}
	return q
}
