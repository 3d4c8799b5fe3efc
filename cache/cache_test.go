package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/docvec/storage"
	"github.com/poiesic/docvec/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"  hello  ", "hello"},
		{"hello \n\t world", "hello world"},
		{"", ""},
		{" \n ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("hello world", "m"), Key("  hello\n\nworld ", "m"))
	assert.NotEqual(t, Key("hello", "m1"), Key("hello", "m2"))
	assert.NotEqual(t, Key("hello", "m"), Key("hellO", "m"))
	assert.Len(t, Key("x", "m"), 64)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(10, time.Hour)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	in := []float32{1, 2, 3}
	m.Set(ctx, "k", in)
	in[0] = 99

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)

	// Mutating a returned vector must not leak into the cache
	got[1] = 42
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, []float32{1, 2, 3}, again)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(10, 50*time.Millisecond)

	m.Set(ctx, "k", []float32{1})
	_, ok := m.Get(ctx, "k")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := m.Get(ctx, "k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_SetUntil(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(10, time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.SetUntil(ctx, "short", []float32{1}, now.Add(time.Minute))
	m.SetUntil(ctx, "past", []float32{2}, now.Add(-time.Second))
	m.SetUntil(ctx, "plain", []float32{3}, time.Time{})

	_, ok := m.Get(ctx, "short")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "past")
	assert.False(t, ok, "an already expired deadline is not stored")

	now = now.Add(time.Minute)
	_, ok = m.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "plain")
	assert.True(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryStore_SizeBound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(2, time.Hour)
	m.Set(ctx, "a", []float32{1})
	m.Set(ctx, "b", []float32{2})
	m.Set(ctx, "c", []float32{3})

	assert.Equal(t, 2, m.Len())
	_, ok := m.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(100, time.Hour)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				m.Set(ctx, "shared", []float32{float32(i), float32(j)})
				if v, ok := m.Get(ctx, "shared"); ok {
					assert.Len(t, v, 2)
				}
			}
		}()
	}
	wg.Wait()
}

type failingDurable struct{}

func (failingDurable) GetVector(ctx context.Context, key string) (storage.CachedVector, bool, error) {
	return storage.CachedVector{}, false, errors.New("disk gone")
}

func (failingDurable) SetVector(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	return errors.New("disk gone")
}

func TestTiered(t *testing.T) {
	ctx := context.Background()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	_, err = NewTiered(nil, repos.Cache, time.Hour)
	assert.ErrorIs(t, err, ErrBackendRequired)

	first, err := NewTiered(NewMemoryStore(10, time.Hour), repos.Cache, time.Hour)
	require.NoError(t, err)
	first.Set(ctx, "k", []float32{0.25})

	// A fresh memory tier over the same durable tier still hits
	memory := NewMemoryStore(10, time.Hour)
	second, err := NewTiered(memory, repos.Cache, time.Hour)
	require.NoError(t, err)
	v, ok := second.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []float32{0.25}, v)
	assert.Equal(t, 1, memory.Len(), "durable hit should warm the memory tier")

	_, ok = second.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestTiered_DurableErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tiered, err := NewTiered(NewMemoryStore(10, time.Hour), failingDurable{}, time.Hour, WithLogger(logger))
	require.NoError(t, err)

	_, ok := tiered.Get(ctx, "k")
	assert.False(t, ok)

	tiered.Set(ctx, "k", []float32{1})
	v, ok := tiered.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []float32{1}, v)

	assert.Contains(t, buf.String(), "durable cache read failed")
	assert.Contains(t, buf.String(), "component=embedding-cache")
}

func TestTiered_DurableHitKeepsOriginalExpiry(t *testing.T) {
	ctx := context.Background()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	// Badger TTLs have one second resolution, so the durable entry lives between 2s and 3s
	const ttl = 3 * time.Second
	memory := NewMemoryStore(1, ttl)
	tiered, err := NewTiered(memory, repos.Cache, ttl)
	require.NoError(t, err)

	tiered.Set(ctx, "k1", []float32{1})
	tiered.Set(ctx, "k2", []float32{2})
	_, ok := memory.Get(ctx, "k1")
	require.False(t, ok, "k2 evicts k1 from the one-entry memory tier")

	time.Sleep(time.Second)
	v, ok := tiered.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []float32{1}, v)

	time.Sleep(2500 * time.Millisecond)
	_, ok = tiered.Get(ctx, "k1")
	assert.False(t, ok, "k1 must not outlive its ttl after being copied into memory")
}
