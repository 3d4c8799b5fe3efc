package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docvec/storage"
)

// VectorCache implements storage.VectorCache using BadgerDB entry TTLs.
// Expired entries are invisible to reads and reclaimed by value log GC.
type VectorCache struct {
	backend *Backend
}

var _ storage.VectorCache = (*VectorCache)(nil)

// NewVectorCache creates a new VectorCache.
func NewVectorCache(backend *Backend) *VectorCache {
	return &VectorCache{backend: backend}
}

// GetVector returns the cached vector for key and when it expires.
func (c *VectorCache) GetVector(ctx context.Context, key string) (storage.CachedVector, bool, error) {
	var hit storage.CachedVector
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCacheKey(key))
		if err != nil {
			return err
		}
		if exp := item.ExpiresAt(); exp > 0 {
			hit.ExpiresAt = time.Unix(int64(exp), 0)
		}
		return item.Value(func(val []byte) error {
			v, err := storage.UnmarshalVector(val)
			if err != nil {
				return err
			}
			hit.Vector = v
			return nil
		})
	}, false)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.CachedVector{}, false, nil
	}
	if err != nil {
		return storage.CachedVector{}, false, err
	}
	return hit, true, nil
}

// SetVector stores vector under key for ttl. A non-positive ttl stores without expiry.
func (c *VectorCache) SetVector(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	data := storage.MarshalVector(vector)
	return c.backend.WithTx(func(tx *badger.Txn) error {
		entry := badger.NewEntry(makeCacheKey(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := tx.SetEntry(entry); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
