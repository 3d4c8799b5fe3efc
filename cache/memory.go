package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultSize = 10000

type memoryEntry struct {
	vector    []float32
	expiresAt time.Time // Zero when only the LRU TTL applies
}

// MemoryStore is an in-process cache tier with a size bound and a fixed TTL.
// Entries copied from a longer-lived tier can carry an earlier deadline of their own.
type MemoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a memory tier holding up to size entries for ttl.
// A non-positive size falls back to DefaultSize; a non-positive ttl disables expiry.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, ttl),
		now: time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]float32, bool) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.lru.Remove(key)
		return nil, false
	}
	return clone(e.vector), true
}

func (m *MemoryStore) Set(ctx context.Context, key string, vector []float32) {
	m.lru.Add(key, memoryEntry{vector: clone(vector)})
}

// SetUntil stores vector so that it expires at deadline or after the tier's
// TTL, whichever comes first. A zero deadline behaves like Set.
func (m *MemoryStore) SetUntil(ctx context.Context, key string, vector []float32, deadline time.Time) {
	if deadline.IsZero() {
		m.Set(ctx, key, vector)
		return
	}
	if !m.now().Before(deadline) {
		return
	}
	m.lru.Add(key, memoryEntry{vector: clone(vector), expiresAt: deadline})
}

// Len returns the number of unexpired entries.
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}
