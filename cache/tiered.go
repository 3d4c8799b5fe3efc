package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/docvec/storage"
)

// Tiered layers a memory tier over a durable storage.VectorCache.
// Durable tier errors are logged and treated as misses.
type Tiered struct {
	memory  *MemoryStore
	durable storage.VectorCache
	ttl     time.Duration
	logger  *slog.Logger
}

var _ Store = (*Tiered)(nil)

// TieredOption configures a Tiered cache.
type TieredOption func(*Tiered) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) TieredOption {
	return func(t *Tiered) error {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger.With("component", "embedding-cache")
		return nil
	}
}

// NewTiered creates a two-tier cache. Both tiers use ttl.
func NewTiered(memory *MemoryStore, durable storage.VectorCache, ttl time.Duration, opts ...TieredOption) (*Tiered, error) {
	if memory == nil || durable == nil {
		return nil, ErrBackendRequired
	}
	t := &Tiered{
		memory:  memory,
		durable: durable,
		ttl:     ttl,
		logger:  slog.Default().With("component", "embedding-cache"),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Get checks the memory tier, then the durable tier. A durable hit is copied
// into memory no longer than the durable entry has left to live.
func (t *Tiered) Get(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := t.memory.Get(ctx, key); ok {
		return v, true
	}
	hit, ok, err := t.durable.GetVector(ctx, key)
	if err != nil {
		t.logger.Warn("durable cache read failed", "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	t.memory.SetUntil(ctx, key, hit.Vector, hit.ExpiresAt)
	return hit.Vector, true
}

func (t *Tiered) Set(ctx context.Context, key string, vector []float32) {
	t.memory.Set(ctx, key, vector)
	if err := t.durable.SetVector(ctx, key, vector, t.ttl); err != nil {
		t.logger.Warn("durable cache write failed", "err", err)
	}
}
